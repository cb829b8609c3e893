package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"

	"github.com/ehr/readmission/internal/config"
	"github.com/ehr/readmission/internal/domain/analytics"
	"github.com/ehr/readmission/internal/domain/patient"
	"github.com/ehr/readmission/internal/domain/risk"
	"github.com/ehr/readmission/internal/domain/riskmodel"
	"github.com/ehr/readmission/internal/platform/cache"
	"github.com/ehr/readmission/internal/platform/metrics"
)

const testModel = `{
  "name": "readmission-logreg",
  "version": "1",
  "features": ["time_in_hospital", "num_medications", "number_inpatient"],
  "intercept": -2.1,
  "coefficients": [0.05, 0.012, 0.42]
}`

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(testModel), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

// newTestApp wires the services over a mocked pool, mirroring newApp
// without touching a real database or Redis.
func newTestApp(t *testing.T, modelPath string, consoleEnabled bool) (*app, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool() // pgxmock v3 always monitors pings
	if err != nil {
		t.Fatalf("create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	cfg := &config.Config{
		Env:               "development",
		DBQueryTimeout:    time.Second,
		RequestTimeout:    5 * time.Second,
		AnalyticsCacheTTL: time.Minute,
		CORSOrigins:       []string{"http://localhost:3000"},
		SQLConsoleEnabled: consoleEnabled,
		RateLimitRPS:      100,
		RateLimitBurst:    100,
		ReadmittedLabel:   "<30",
		ModelPath:         modelPath,
	}
	logger := zerolog.Nop()
	m := metrics.NewManager()
	patientRepo := patient.NewRepo(mock, cfg.DBQueryTimeout, m)

	return &app{
		cfg:      cfg,
		logger:   logger,
		pinger:   mock,
		metrics:  m,
		patients: patient.NewService(patientRepo, logger),
		risk:     risk.NewService(riskmodel.NewStore(modelPath, logger), patientRepo, m, logger),
		analytics: analytics.NewService(
			analytics.NewRepo(mock, cfg.DBQueryTimeout, cfg.ReadmittedLabel, m),
			analytics.WithCache(cache.NewMemoryStore(), cfg.AnalyticsCacheTTL),
			analytics.WithMetrics(m),
		),
	}, mock
}

func TestNewServer_RegistersRoutes(t *testing.T) {
	a, _ := newTestApp(t, writeModel(t), false)
	e := newServer(a)

	want := []string{
		"GET /health",
		"GET /metrics",
		"GET /api/v1/model",
		"POST /api/v1/predictions",
		"GET /api/v1/encounters/:id/risk",
		"GET /api/v1/patients/sample",
		"GET /api/v1/patients/:id",
		"GET /api/v1/queries",
		"GET /api/v1/queries/:id",
		"GET /api/v1/queries/:id/export",
		"POST /api/v1/queries/console",
		"GET /api/v1/analytics/summary",
		"GET /api/v1/analytics/readmission-by-age",
		"GET /api/v1/analytics/gender",
		"GET /api/v1/analytics/stay-vs-medications",
	}
	got := map[string]bool{}
	for _, r := range e.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, route := range want {
		if !got[route] {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestNewServer_Health(t *testing.T) {
	a, mock := newTestApp(t, writeModel(t), false)
	mock.ExpectPing()
	e := newServer(a)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewServer_HealthUnreachableDatabase(t *testing.T) {
	a, mock := newTestApp(t, writeModel(t), false)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	e := newServer(a)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestNewServer_ManualPrediction(t *testing.T) {
	a, _ := newTestApp(t, writeModel(t), false)
	e := newServer(a)

	body := `{"use_manual": true, "time_in_hospital": 3, "num_medications": 15, "number_inpatient": 0}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp risk.PredictionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Assessment == nil || resp.Assessment.RiskTier == "" {
		t.Errorf("expected an assessment, got %s", rec.Body.String())
	}
}

func TestNewServer_PredictionDisabledWithoutModel(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	a, _ := newTestApp(t, missing, false)
	e := newServer(a)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", strings.NewReader(`{"use_manual": true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestNewServer_ConsoleDisabled(t *testing.T) {
	a, _ := newTestApp(t, writeModel(t), false)
	e := newServer(a)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries/console", strings.NewReader(`{"sql":"SELECT 1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestNewServer_Metrics(t *testing.T) {
	a, _ := newTestApp(t, writeModel(t), false)
	e := newServer(a)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestScoreManual(t *testing.T) {
	var out bytes.Buffer
	if err := scoreManual(context.Background(), &out, writeModel(t), zerolog.Nop(), 3, 15, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var a risk.Assessment
	if err := json.Unmarshal(out.Bytes(), &a); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if a.RiskPercentage < 0 || a.RiskPercentage > 100 {
		t.Errorf("risk percentage out of range: %f", a.RiskPercentage)
	}
	if a.Source != risk.SourceManual {
		t.Errorf("expected manual source, got %s", a.Source)
	}
}

func TestScoreManual_OutOfRange(t *testing.T) {
	var out bytes.Buffer
	if err := scoreManual(context.Background(), &out, writeModel(t), zerolog.Nop(), 0, 15, 0); err == nil {
		t.Error("expected range error for zero days in hospital")
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestScoreCmd_Flags(t *testing.T) {
	cmd := scoreCmd()
	for _, name := range []string{"manual", "time-in-hospital", "num-medications", "number-inpatient", "encounter-id"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing flag --%s", name)
		}
	}
	if v, _ := cmd.Flags().GetInt64("encounter-id"); v != risk.DefaultEncounterID {
		t.Errorf("expected default encounter %d, got %d", risk.DefaultEncounterID, v)
	}
}

func TestAnalyticsStore_FallsBackToMemory(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		warning bool
	}{
		{"not configured", "", false},
		{"malformed url", "http://cache.internal:6379", true},
		{"unreachable", "redis://127.0.0.1:1/0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			store, closeFn := analyticsStore(ctx, tt.url, zerolog.New(&buf))
			defer closeFn()

			if _, ok := store.(*cache.MemoryStore); !ok {
				t.Fatalf("expected in-memory store, got %T", store)
			}
			logged := strings.Contains(buf.String(), "redis unavailable")
			if logged != tt.warning {
				t.Errorf("warning logged = %v, want %v (log: %q)", logged, tt.warning, buf.String())
			}
		})
	}
}
