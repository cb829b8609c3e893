package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newSanitizeEcho(logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.Use(Sanitize(logger))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/*", ok)
	e.POST("/*", ok)
	return e
}

func TestSanitize_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header [2]string
	}{
		{"dot dot", "/../../etc/passwd", [2]string{}},
		{"encoded dot dot", "/%2e%2e/%2e%2e/etc/passwd", [2]string{}},
		{"double encoded", "/api/v1/%252e%252e/secret", [2]string{}},
		{"null byte in path", "/api/v1/patients/%00", [2]string{}},
		{"null byte in query", "/api/v1/patients/sample?limit=5%00", [2]string{}},
		{"script in query", "/api/v1/patients/sample?q=%3Cscript%3Ealert(1)%3C/script%3E", [2]string{}},
		{"javascript scheme", "/api/v1/patients/sample?next=javascript:alert(1)", [2]string{}},
		{"oversized header", "/api/v1/model", [2]string{"X-Custom", strings.Repeat("a", maxHeaderValueSize+1)}},
	}

	e := newSanitizeEcho(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header[0] != "" {
				req.Header.Set(tt.header[0], tt.header[1])
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSanitize_HeaderInjection(t *testing.T) {
	e := newSanitizeEcho(zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/model", nil)
	req.Header["X-Injected"] = []string{"value\r\nSet-Cookie: evil=1"}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSanitize_NormalRequest_PassesThrough(t *testing.T) {
	e := newSanitizeEcho(zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/stay-vs-medications?limit=500", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSanitize_ConsoleBodyNotInspected(t *testing.T) {
	e := newSanitizeEcho(zerolog.Nop())

	body := `{"sql":"SELECT 1 WHERE 1=1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries/console", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSanitize_SQLPatternLoggedNotBlocked(t *testing.T) {
	var buf bytes.Buffer
	e := newSanitizeEcho(zerolog.New(&buf))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/sample?name=x%27+OR+1%3D1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "suspicious SQL pattern") {
		t.Errorf("expected warning to be logged, got %q", buf.String())
	}
}
