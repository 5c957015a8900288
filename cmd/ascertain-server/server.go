package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/brunoniconeves/ascertain-task/internal/config"
	"github.com/brunoniconeves/ascertain-task/internal/domain/note"
	"github.com/brunoniconeves/ascertain-task/internal/domain/patient"
	"github.com/brunoniconeves/ascertain-task/internal/domain/summary"
	"github.com/brunoniconeves/ascertain-task/internal/platform/blobstore"
	"github.com/brunoniconeves/ascertain-task/internal/platform/db"
	"github.com/brunoniconeves/ascertain-task/internal/platform/llm"
	"github.com/brunoniconeves/ascertain-task/internal/platform/middleware"
	"github.com/brunoniconeves/ascertain-task/migrations"
)

// uploadOverhead leaves room for multipart framing and form fields around
// the file itself.
const uploadOverhead = 1 << 20

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// stores holds the repositories for the configured backend.
type stores struct {
	patients patient.Repository
	notes    note.Repository
	pinger   db.Pinger
	close    func()
}

// openStores connects to PostgreSQL or SQLite depending on DATABASE_URL.
// SQLite is migrated on open; PostgreSQL is migrated with `migrate up`.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Driver() == config.DriverSQLite {
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		if _, err := db.MigrateSQLite(ctx, sqlDB, migrations.SQLite()); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return &stores{
			patients: patient.NewRepoSQLite(sqlDB),
			notes:    note.NewRepoSQLite(sqlDB),
			pinger:   db.PingFunc(sqlDB.PingContext),
			close:    func() { sqlDB.Close() },
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &stores{
		patients: patient.NewRepoPG(pool),
		notes:    note.NewRepoPG(pool),
		pinger:   pool,
		close:    pool.Close,
	}, nil
}

type services struct {
	patients  *patient.Service
	notes     *note.Service
	summaries *summary.Service
}

func newServices(cfg *config.Config, st *stores, blobs blobstore.BlobStore, logger zerolog.Logger) *services {
	patients := patient.NewService(st.patients, patient.Options{
		MRNAutoGenerate: cfg.PatientMRNAutoGenerate,
		MRNPrefix:       cfg.PatientMRNPrefix,
	}, logger)

	notes := note.NewService(st.notes, blobs, patients, note.Options{
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		AllowedMIMETypes: cfg.AllowedMIMETypes(),
	}, logger)

	var gen llm.Generator
	if cfg.LLMEnabled() {
		gen = llm.NewOpenAIClient(llm.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.OpenAITimeout,
		})
	}
	summaries := summary.NewService(patients, notes, gen, summary.Options{
		Model:          cfg.OpenAIModel,
		MaxPromptChars: cfg.OpenAIMaxPromptChars,
	}, logger)

	return &services{patients: patients, notes: notes, summaries: summaries}
}

func newEcho(cfg *config.Config, svcs *services, pinger db.Pinger, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)

	// Metrics sits outside Logger so both see the final status.
	e.Use(middleware.RequestID())
	e.Use(middleware.Metrics())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.MaxUploadBytes()+uploadOverhead))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", middleware.MetricsHandler())

	api := e.Group("")
	patient.NewHandler(svcs.patients).RegisterRoutes(api)
	note.NewHandler(svcs.notes).RegisterRoutes(api)
	summary.NewHandler(svcs.summaries).RegisterRoutes(api, middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.SummaryRateLimitRPS,
		BurstSize:         cfg.SummaryRateLimitBurst,
	}))

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.close()
	logger.Info().Str("driver", cfg.Driver()).Msg("connected to database")

	blobs, err := blobstore.NewLocalStore(cfg.LocalStorageBasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open note storage")
	}

	svcs := newServices(cfg, st, blobs, logger)
	if !svcs.summaries.Enabled() {
		logger.Warn().Msg("OPENAI_API_KEY not set; summaries are disabled")
	}

	e := newEcho(cfg, svcs, st.pinger, logger)
	// Request-scoped loggers derive from this one.
	e.Server.BaseContext = func(net.Listener) context.Context {
		return logger.WithContext(context.Background())
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
