package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/readmission/internal/config"
	"github.com/ehr/readmission/internal/domain/analytics"
	"github.com/ehr/readmission/internal/domain/patient"
	"github.com/ehr/readmission/internal/domain/risk"
	"github.com/ehr/readmission/internal/domain/riskmodel"
	"github.com/ehr/readmission/internal/platform/cache"
	"github.com/ehr/readmission/internal/platform/db"
	"github.com/ehr/readmission/internal/platform/metrics"
	"github.com/ehr/readmission/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "readmission-server",
		Short: "Hospital readmission risk API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(modelCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one patient from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			manual, _ := cmd.Flags().GetBool("manual")
			logger := newLogger(os.Getenv("ENV"), os.Stderr)

			if manual {
				stay, _ := cmd.Flags().GetInt("time-in-hospital")
				meds, _ := cmd.Flags().GetInt("num-medications")
				inpatient, _ := cmd.Flags().GetInt("number-inpatient")
				modelPath := os.Getenv("MODEL_PATH")
				if modelPath == "" {
					modelPath = "model.json"
				}
				return scoreManual(cmd.Context(), cmd.OutOrStdout(), modelPath, logger, stay, meds, inpatient)
			}

			id, _ := cmd.Flags().GetInt64("encounter-id")
			a, err := newApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.close()

			assessment, enc, err := a.risk.ScoreByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			details := enc.Details()
			return writeJSON(cmd.OutOrStdout(), risk.PredictionResponse{Assessment: assessment, Patient: &details})
		},
	}
	cmd.Flags().Bool("manual", false, "score the feature flags instead of a stored encounter")
	cmd.Flags().Int("time-in-hospital", risk.DefaultTimeInHospital, "days in hospital")
	cmd.Flags().Int("num-medications", risk.DefaultNumMedications, "distinct medications administered")
	cmd.Flags().Int("number-inpatient", risk.DefaultNumberInpatient, "prior inpatient visits")
	cmd.Flags().Int64("encounter-id", risk.DefaultEncounterID, "encounter to score")
	return cmd
}

func analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Population analytics",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Print the headline aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), newLogger(os.Getenv("ENV"), os.Stderr))
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.analytics.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	})
	return cmd
}

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect the model artifact",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Load the artifact and print its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			store := riskmodel.NewStore(path, newLogger(os.Getenv("ENV"), os.Stderr))
			info, err := store.Info()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	})
	cmd.PersistentFlags().String("path", "model.json", "model artifact path")
	return cmd
}

func scoreManual(ctx context.Context, out io.Writer, modelPath string, logger zerolog.Logger, stay, meds, inpatient int) error {
	if err := risk.CheckManualRanges(stay, meds, inpatient); err != nil {
		return err
	}
	svc := risk.NewService(riskmodel.NewStore(modelPath, logger), nil, nil, logger)
	assessment, err := svc.ScoreManual(ctx, stay, meds, inpatient)
	if err != nil {
		return err
	}
	return writeJSON(out, assessment)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger writes JSON to out, or human readable lines in development.
// CLI commands log to stderr so stdout carries only their JSON result.
func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// app holds the process-wide dependencies built once at startup.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pinger    db.Pinger
	metrics   *metrics.Manager
	risk      *risk.Service
	patients  *patient.Service
	analytics *analytics.Service
	closers   []func()
}

func newApp(ctx context.Context, logger zerolog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	a := &app{
		cfg:     cfg,
		logger:  logger,
		pinger:  pool,
		metrics: metrics.NewManager(),
		closers: []func(){pool.Close},
	}

	store := riskmodel.NewStore(cfg.ModelPath, logger)
	if _, err := store.Load(); err != nil {
		logger.Warn().Err(err).Str("path", cfg.ModelPath).Msg("model unavailable, prediction disabled")
		a.metrics.SetModelLoaded(false)
	} else {
		a.metrics.SetModelLoaded(true)
	}

	kv, closeKV := analyticsStore(ctx, cfg.RedisURL, logger)
	a.closers = append(a.closers, closeKV)

	patientRepo := patient.NewRepo(pool, cfg.DBQueryTimeout, a.metrics)
	a.patients = patient.NewService(patientRepo, logger)
	a.risk = risk.NewService(store, patientRepo, a.metrics, logger)
	a.analytics = analytics.NewService(
		analytics.NewRepo(pool, cfg.DBQueryTimeout, cfg.ReadmittedLabel, a.metrics),
		analytics.WithCache(kv, cfg.AnalyticsCacheTTL),
		analytics.WithMetrics(a.metrics),
		analytics.WithLogger(logger),
	)
	return a, nil
}

// analyticsStore connects to Redis when url is set. An unreachable or
// misconfigured Redis degrades to the in-process store.
func analyticsStore(ctx context.Context, url string, logger zerolog.Logger) (cache.Store, func()) {
	if url == "" {
		return cache.NewMemoryStore(), func() {}
	}
	client, err := cache.NewRedisClient(ctx, url)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, analytics cache kept in memory")
		return cache.NewMemoryStore(), func() {}
	}
	logger.Info().Msg("analytics cache backed by redis")
	return cache.NewRedisStore(client, "analytics:"), func() { client.Close() }
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newServer builds the Echo instance with middleware and every route mounted.
func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID", "If-None-Match"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(a.logger))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", db.HealthHandler(a.pinger))
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	risk.NewHandler(a.risk).RegisterRoutes(apiV1)
	patient.NewHandler(a.patients, cfg.SQLConsoleEnabled).RegisterRoutes(apiV1)
	analytics.NewHandler(a.analytics).RegisterRoutes(apiV1, middleware.ETag(middleware.DefaultETagConfig()))

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	a, err := newApp(context.Background(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.close()

	if a.cfg.SQLConsoleEnabled {
		logger.Warn().Msg("read-only SQL console enabled")
	}

	e := newServer(a)

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
