// Package risk turns a feature vector into a 30-day readmission risk
// assessment. Manual entry and encounter lookup share one scoring path.
package risk

import (
	"encoding/json"
	"fmt"

	"github.com/ehr/readmission/internal/domain/patient"
	"github.com/ehr/readmission/internal/domain/riskmodel"
)

// Tier is the discrete risk band derived from the risk percentage.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// Tier thresholds in percent. Each band includes its lower bound.
const (
	MediumThreshold = 30.0
	HighThreshold   = 60.0
)

// TierFor maps a risk percentage to its tier.
func TierFor(pct float64) Tier {
	switch {
	case pct < MediumThreshold:
		return TierLow
	case pct < HighThreshold:
		return TierMedium
	default:
		return TierHigh
	}
}

// Source records where a feature vector came from.
type Source string

const (
	SourceManual    Source = "manual"
	SourceEncounter Source = "encounter"
)

// FeatureVector is the classifier input in the order
// [time_in_hospital, num_medications, number_inpatient].
type FeatureVector [riskmodel.NumFeatures]float64

// NewFeatureVector builds a vector from possibly missing values; a nil value
// becomes 0.
func NewFeatureVector(timeInHospital, numMedications, numberInpatient *int) FeatureVector {
	return FeatureVector{orZero(timeInHospital), orZero(numMedications), orZero(numberInpatient)}
}

// EncounterFeatures extracts the feature columns of a stored encounter.
func EncounterFeatures(e *patient.Encounter) FeatureVector {
	return NewFeatureVector(e.TimeInHospital, e.NumMedications, e.NumberInpatient)
}

func orZero(v *int) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}

// Validate rejects negative components.
func (v FeatureVector) Validate() error {
	for i, x := range v {
		if x < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidFeature, riskmodel.FeatureNames[i], x)
		}
	}
	return nil
}

type featureFields struct {
	TimeInHospital  float64 `json:"time_in_hospital"`
	NumMedications  float64 `json:"num_medications"`
	NumberInpatient float64 `json:"number_inpatient"`
}

func (v FeatureVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(featureFields{v[0], v[1], v[2]})
}

func (v *FeatureVector) UnmarshalJSON(data []byte) error {
	var f featureFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = FeatureVector{f.TimeInHospital, f.NumMedications, f.NumberInpatient}
	return nil
}

// Assessment is the result of scoring one feature vector.
type Assessment struct {
	Probability    float64       `json:"probability"`
	RiskPercentage float64       `json:"risk_percentage"`
	RiskTier       Tier          `json:"risk_tier"`
	Features       FeatureVector `json:"features"`
	Source         Source        `json:"source"`
	ModelVersion   string        `json:"model_version,omitempty"`
}

// Range is an inclusive bound on a manually entered feature.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ManualRanges are the input bounds of the prediction form, indexed like
// FeatureVector.
var ManualRanges = [riskmodel.NumFeatures]Range{
	{Min: 1, Max: 14},
	{Min: 1, Max: 81},
	{Min: 0, Max: 21},
}

// Form defaults.
const (
	DefaultEncounterID     int64 = 2278392
	DefaultTimeInHospital        = 3
	DefaultNumMedications        = 15
	DefaultNumberInpatient       = 0
)

// CheckManualRanges reports the first value outside the form bounds.
func CheckManualRanges(timeInHospital, numMedications, numberInpatient int) error {
	for i, v := range [riskmodel.NumFeatures]int{timeInHospital, numMedications, numberInpatient} {
		r := ManualRanges[i]
		if v < r.Min || v > r.Max {
			return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidFeature, riskmodel.FeatureNames[i], r.Min, r.Max, v)
		}
	}
	return nil
}
