package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/readmission/internal/platform/cache"
	"github.com/ehr/readmission/internal/platform/metrics"
)

// ErrAnalyticsUnavailable means the patient store could not be queried.
// Retrying the call is safe.
var ErrAnalyticsUnavailable = errors.New("analytics unavailable")

// Option configures a Service.
type Option func(*Service)

// WithCache memoizes results in store for ttl. A non-positive ttl disables
// caching.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cache = store
			s.ttl = ttl
		}
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With().Str("component", "analytics").Logger()
	}
}

type Service struct {
	repo    Repository
	cache   cache.Store
	ttl     time.Duration
	metrics *metrics.Manager
	logger  zerolog.Logger
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	return cached(ctx, s, "summary", "summary", s.repo.Summary)
}

func (s *Service) TotalPatients(ctx context.Context) (int64, error) {
	return cached(ctx, s, "total_patients", "total_patients", s.repo.TotalPatients)
}

func (s *Service) ReadmissionRate(ctx context.Context) (float64, error) {
	return cached(ctx, s, "readmission_rate", "readmission_rate", s.repo.ReadmissionRate)
}

func (s *Service) AverageStay(ctx context.Context) (float64, error) {
	return cached(ctx, s, "average_stay", "average_stay", s.repo.AverageStay)
}

func (s *Service) AverageMedications(ctx context.Context) (float64, error) {
	return cached(ctx, s, "average_medications", "average_medications", s.repo.AverageMedications)
}

func (s *Service) ReadmissionByAge(ctx context.Context) ([]AgeGroupRate, error) {
	return cached(ctx, s, "readmission_by_age", "readmission_by_age", s.repo.ReadmissionByAge)
}

func (s *Service) GenderDistribution(ctx context.Context) ([]GenderCount, error) {
	return cached(ctx, s, "gender_distribution", "gender_distribution", s.repo.GenderDistribution)
}

// StayVsMedicationsSample returns at most limit points with
// time_in_hospital <= 14 and num_medications <= 50. A non-positive limit
// means DefaultSampleLimit; larger limits are capped at MaxSampleLimit.
func (s *Service) StayVsMedicationsSample(ctx context.Context, limit int) ([]StayMedicationPoint, error) {
	limit = ClampSampleLimit(limit)
	key := "stay_vs_medications:" + strconv.Itoa(limit)
	return cached(ctx, s, "stay_vs_medications", key, func(ctx context.Context) ([]StayMedicationPoint, error) {
		points, err := s.repo.StayVsMedications(ctx, limit)
		if err != nil {
			return nil, err
		}
		return filterPoints(points, limit), nil
	})
}

// ClampSampleLimit applies the stay vs medications limit policy.
func ClampSampleLimit(limit int) int {
	if limit <= 0 {
		return DefaultSampleLimit
	}
	if limit > MaxSampleLimit {
		return MaxSampleLimit
	}
	return limit
}

func filterPoints(points []StayMedicationPoint, limit int) []StayMedicationPoint {
	out := make([]StayMedicationPoint, 0, len(points))
	for _, p := range points {
		if len(out) == limit {
			break
		}
		if p.TimeInHospital > MaxStayDays || p.NumMedications > MaxMedications {
			continue
		}
		p.Status = statusLabel(p.Readmitted)
		out = append(out, p)
	}
	return out
}

// cached serves key from the cache when possible and otherwise runs load.
// name labels metrics and logs. Cache failures are logged and never returned.
func cached[T any](ctx context.Context, s *Service, name, key string, load func(context.Context) (T, error)) (T, error) {
	start := time.Now()

	if s.cache != nil {
		var v T
		err := cache.GetJSON(ctx, s.cache, key, &v)
		switch {
		case err == nil:
			s.metrics.RecordCache(name, "hit")
			return v, nil
		case errors.Is(err, cache.ErrCacheMiss):
			s.metrics.RecordCache(name, "miss")
		default:
			s.metrics.RecordCache(name, "error")
			s.logger.Warn().Err(err).Str("aggregate", name).Msg("analytics cache read failed")
		}
	}

	v, err := load(ctx)
	s.metrics.RecordAnalytics(name, time.Since(start), err)
	if err != nil {
		s.logger.Error().Err(err).Str("aggregate", name).Msg("analytics query failed")
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrAnalyticsUnavailable, err)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, v, s.ttl); err != nil {
			s.metrics.RecordCache(name, "error")
			s.logger.Warn().Err(err).Str("aggregate", name).Msg("analytics cache write failed")
		}
	}
	return v, nil
}
