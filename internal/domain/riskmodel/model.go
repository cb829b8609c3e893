package riskmodel

import (
	"fmt"
	"math"
	"time"
)

// NumFeatures is the length of every feature vector the classifier accepts.
const NumFeatures = 3

// FeatureNames is the canonical column order of the feature vector.
var FeatureNames = [NumFeatures]string{"time_in_hospital", "num_medications", "number_inpatient"}

// KindLogisticRegression is the only artifact kind currently supported.
const KindLogisticRegression = "logistic_regression"

// Model scores a feature vector. Implementations are immutable and safe for
// concurrent use.
type Model interface {
	PredictProba(features [NumFeatures]float64) (float64, error)
	Info() Info
}

// Info describes a loaded model artifact.
type Info struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Kind     string    `json:"kind"`
	Features []string  `json:"features"`
	Path     string    `json:"path"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Artifact is the serialized form of a trained binary classifier: the
// exported parameters of a fitted logistic regression.
type Artifact struct {
	Name         string    `json:"name" yaml:"name"`
	Version      string    `json:"version" yaml:"version"`
	Kind         string    `json:"kind" yaml:"kind"`
	Features     []string  `json:"features" yaml:"features"`
	Intercept    float64   `json:"intercept" yaml:"intercept"`
	Coefficients []float64 `json:"coefficients" yaml:"coefficients"`
}

// Validate rejects artifacts that do not match the three-feature contract.
func (a *Artifact) Validate() error {
	kind := a.Kind
	if kind == "" {
		kind = KindLogisticRegression
	}
	if kind != KindLogisticRegression {
		return fmt.Errorf("unsupported model kind %q", a.Kind)
	}
	if len(a.Features) != NumFeatures {
		return fmt.Errorf("model declares %d features, expected %d %v", len(a.Features), NumFeatures, FeatureNames)
	}
	for i, name := range a.Features {
		if name != FeatureNames[i] {
			return fmt.Errorf("feature %d is %q, expected %q", i, name, FeatureNames[i])
		}
	}
	if len(a.Coefficients) != NumFeatures {
		return fmt.Errorf("model has %d coefficients, expected %d", len(a.Coefficients), NumFeatures)
	}
	for i, w := range a.Coefficients {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("coefficient %d is not finite", i)
		}
	}
	if math.IsNaN(a.Intercept) || math.IsInf(a.Intercept, 0) {
		return fmt.Errorf("intercept is not finite")
	}
	return nil
}

type logisticModel struct {
	intercept float64
	weights   [NumFeatures]float64
	info      Info
}

func newLogisticModel(a *Artifact, path string, loadedAt time.Time) *logisticModel {
	m := &logisticModel{intercept: a.Intercept}
	copy(m.weights[:], a.Coefficients)
	m.info = Info{
		Name:     a.Name,
		Version:  a.Version,
		Kind:     KindLogisticRegression,
		Features: append([]string(nil), a.Features...),
		Path:     path,
		LoadedAt: loadedAt,
	}
	return m
}

// PredictProba returns P(readmitted within 30 days | features).
func (m *logisticModel) PredictProba(features [NumFeatures]float64) (float64, error) {
	z := m.intercept
	for i, x := range features {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("feature %s is not finite", FeatureNames[i])
		}
		z += m.weights[i] * x
	}
	return sigmoid(z), nil
}

func (m *logisticModel) Info() Info {
	return m.info
}

// sigmoid is evaluated on the side that cannot overflow exp.
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
