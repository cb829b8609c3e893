// Package metrics exposes Prometheus metrics for prediction, analytics and
// HTTP traffic. A Manager is created once in main and injected; a nil
// *Manager is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the registry and every collector of the service.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  *prometheus.Registry

	predictions       *prometheus.CounterVec
	predictionErrors  *prometheus.CounterVec
	predictionLatency *prometheus.HistogramVec
	modelLoaded       prometheus.Gauge

	analyticsLatency *prometheus.HistogramVec
	analyticsErrors  *prometheus.CounterVec
	cacheResults     *prometheus.CounterVec

	repositoryLatency *prometheus.HistogramVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a Manager with its own registry unless WithRegistry is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "readmission",
		subsystem: "",
		buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewGoCollector())
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.predictions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "predictions_total",
		Help:      "Risk assessments served, by feature source and risk tier",
	}, []string{"source", "tier"})

	m.predictionErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "prediction_errors_total",
		Help:      "Failed risk assessments, by feature source and error kind",
	}, []string{"source", "kind"})

	m.predictionLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "prediction_duration_seconds",
		Help:      "Time to produce a risk assessment, including patient lookup",
		Buckets:   m.buckets,
	}, []string{"source"})

	m.modelLoaded = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_loaded",
		Help:      "1 when the readmission classifier is loaded, 0 when prediction is disabled",
	})

	m.analyticsLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "analytics_duration_seconds",
		Help:      "Analytics computation time, by aggregate",
		Buckets:   m.buckets,
	}, []string{"aggregate"})

	m.analyticsErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "analytics_errors_total",
		Help:      "Analytics calls that failed because the store was unavailable",
	}, []string{"aggregate"})

	m.cacheResults = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "analytics_cache_total",
		Help:      "Analytics cache lookups, by aggregate and result (hit, miss, error)",
	}, []string{"aggregate", "result"})

	m.repositoryLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_query_duration_seconds",
		Help:      "Patient repository query time, by operation",
		Buckets:   m.buckets,
	}, []string{"operation"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by route and method",
		Buckets:   m.buckets,
	}, []string{"route", "method"})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) RecordPrediction(source, tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(source, tier).Inc()
	m.predictionLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Manager) RecordPredictionError(source, kind string) {
	if m == nil {
		return
	}
	m.predictionErrors.WithLabelValues(source, kind).Inc()
}

func (m *Manager) SetModelLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.modelLoaded.Set(1)
		return
	}
	m.modelLoaded.Set(0)
}

func (m *Manager) RecordAnalytics(aggregate string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.analyticsLatency.WithLabelValues(aggregate).Observe(d.Seconds())
	if err != nil {
		m.analyticsErrors.WithLabelValues(aggregate).Inc()
	}
}

func (m *Manager) RecordCache(aggregate, result string) {
	if m == nil {
		return
	}
	m.cacheResults.WithLabelValues(aggregate, result).Inc()
}

func (m *Manager) RecordRepositoryQuery(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.repositoryLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Middleware records request counts and latency per registered route, so
// /api/v1/patients/:id stays one series regardless of the id.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(route, c.Request().Method, strconv.Itoa(status)).Inc()
			m.httpRequestDuration.WithLabelValues(route, c.Request().Method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
