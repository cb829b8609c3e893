package patient

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/readmission/pkg/pagination"
)

// SampleLimits bounds the data explorer preview.
var SampleLimits = pagination.Limits{Default: 10, Max: 100}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "patient").Logger()}
}

func (s *Service) Sample(ctx context.Context, limit int) ([]*Encounter, error) {
	return s.repo.Sample(ctx, SampleLimits.Clamp(limit))
}

func (s *Service) GetEncounter(ctx context.Context, encounterID int64) (*Encounter, error) {
	if encounterID <= 0 {
		return nil, fmt.Errorf("%w: encounter id must be positive", ErrNotFound)
	}
	return s.repo.FindByID(ctx, encounterID)
}

func (s *Service) RunNamedQuery(ctx context.Context, id string) (*QueryResult, error) {
	return s.repo.RunNamed(ctx, id)
}

// RunConsoleQuery executes an operator-supplied statement in the read-only
// sandbox. Every attempt is logged.
func (s *Service) RunConsoleQuery(ctx context.Context, sqlText string) (*QueryResult, error) {
	res, err := s.repo.Query(ctx, sqlText)
	if err != nil {
		s.logger.Warn().Err(err).Str("sql", sqlText).Msg("console query rejected")
		return nil, err
	}
	s.logger.Info().Str("sql", sqlText).Int("rows", res.RowCount).Bool("truncated", res.Truncated).Msg("console query executed")
	return res, nil
}
