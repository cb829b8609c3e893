package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/readmission/internal/domain/patient"
	"github.com/ehr/readmission/internal/domain/riskmodel"
	"github.com/ehr/readmission/internal/platform/metrics"
)

var (
	// ErrInvalidFeature marks an out-of-domain feature value.
	ErrInvalidFeature = errors.New("invalid feature")
	// ErrPatientNotFound is returned when a lookup key matches no encounter.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrInvalidProbability is returned when the model output is not in [0, 1].
	ErrInvalidProbability = errors.New("model returned an invalid probability")
)

// Scorer is the model surface the service depends on. *riskmodel.Store
// implements it.
type Scorer interface {
	Score(features [riskmodel.NumFeatures]float64) (float64, error)
	Info() (riskmodel.Info, error)
}

// EncounterFinder looks up a stored encounter by id.
type EncounterFinder interface {
	FindByID(ctx context.Context, encounterID int64) (*patient.Encounter, error)
}

type Service struct {
	model    Scorer
	patients EncounterFinder
	metrics  *metrics.Manager
	logger   zerolog.Logger
}

// NewService wires the scoring service. m may be nil.
func NewService(model Scorer, patients EncounterFinder, m *metrics.Manager, logger zerolog.Logger) *Service {
	return &Service{
		model:    model,
		patients: patients,
		metrics:  m,
		logger:   logger.With().Str("component", "risk").Logger(),
	}
}

// ScoreManual scores values entered by hand.
func (s *Service) ScoreManual(ctx context.Context, timeInHospital, numMedications, numberInpatient int) (*Assessment, error) {
	v := NewFeatureVector(&timeInHospital, &numMedications, &numberInpatient)
	return s.assess(v, SourceManual)
}

// ScoreByID scores a stored encounter and returns it alongside the
// assessment. Missing feature columns are scored as 0. Without a model the
// encounter is not looked up.
func (s *Service) ScoreByID(ctx context.Context, encounterID int64) (*Assessment, *patient.Encounter, error) {
	if _, err := s.model.Info(); errors.Is(err, riskmodel.ErrModelUnavailable) {
		s.metrics.RecordPredictionError(string(SourceEncounter), "model_unavailable")
		return nil, nil, err
	}

	enc, err := s.patients.FindByID(ctx, encounterID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			s.metrics.RecordPredictionError(string(SourceEncounter), "not_found")
			return nil, nil, fmt.Errorf("%w: encounter %d", ErrPatientNotFound, encounterID)
		}
		s.metrics.RecordPredictionError(string(SourceEncounter), "lookup")
		return nil, nil, fmt.Errorf("lookup encounter %d: %w", encounterID, err)
	}

	a, err := s.assess(EncounterFeatures(enc), SourceEncounter)
	if err != nil {
		return nil, enc, err
	}
	return a, enc, nil
}

// ModelInfo returns metadata of the loaded model.
func (s *Service) ModelInfo() (riskmodel.Info, error) {
	return s.model.Info()
}

func (s *Service) assess(v FeatureVector, source Source) (*Assessment, error) {
	start := time.Now()

	if err := v.Validate(); err != nil {
		s.metrics.RecordPredictionError(string(source), "invalid_feature")
		return nil, err
	}

	p, err := s.model.Score(v)
	if err != nil {
		if errors.Is(err, riskmodel.ErrModelUnavailable) {
			s.metrics.RecordPredictionError(string(source), "model_unavailable")
			return nil, err
		}
		s.metrics.RecordPredictionError(string(source), "model")
		return nil, fmt.Errorf("score features: %w", err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		s.metrics.RecordPredictionError(string(source), "invalid_probability")
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}

	a := &Assessment{
		Probability:    p,
		RiskPercentage: p * 100,
		Features:       v,
		Source:         source,
	}
	a.RiskTier = TierFor(a.RiskPercentage)
	if info, err := s.model.Info(); err == nil {
		a.ModelVersion = info.Version
	}

	s.metrics.RecordPrediction(string(source), string(a.RiskTier), time.Since(start))
	s.logger.Debug().
		Str("source", string(source)).
		Float64("risk_percentage", a.RiskPercentage).
		Str("risk_tier", string(a.RiskTier)).
		Msg("risk assessed")
	return a, nil
}
