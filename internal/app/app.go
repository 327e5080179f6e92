// Package app wires configuration, the descriptor store, the simulation
// engine and the HTTP surface into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/joluben/sigsim/internal/config"
	"github.com/joluben/sigsim/internal/engine"
	handler "github.com/joluben/sigsim/internal/handler/http"
	"github.com/joluben/sigsim/internal/metrics"
	"github.com/joluben/sigsim/internal/repository"
	"github.com/joluben/sigsim/internal/repository/memory"
	pgstore "github.com/joluben/sigsim/internal/repository/postgres"
	redisstore "github.com/joluben/sigsim/internal/repository/redis"
	"github.com/joluben/sigsim/internal/service"
	"github.com/joluben/sigsim/pkg/database"
	"github.com/joluben/sigsim/pkg/health"
	"github.com/joluben/sigsim/pkg/tracing"
)

// App wires together all dependencies and runs the simulator service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	engine         *engine.Engine
	pool           *pgxpool.Pool
	rdb            *redis.Client
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "sigsim",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Select the descriptor store backend.
	var (
		store repository.Store
		pool  *pgxpool.Pool
		rdb   *redis.Client
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pgCfg := database.PostgresConfig{
			Host:            cfg.PostgresHost,
			Port:            cfg.PostgresPort,
			User:            cfg.PostgresUser,
			Password:        cfg.PostgresPass,
			DBName:          cfg.PostgresDB,
			SSLMode:         cfg.PostgresSSL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
			MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
		}
		pool, err = database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		database.RegisterPoolMetrics(pool, "sigsim")
		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}
		store = pgstore.New(pool)
	case config.StoreRedis:
		rdb, err = database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		store = redisstore.New(rdb)
	default:
		store = memory.New()
		logger.Info("in-memory descriptor store initialized")
	}

	// Build the simulation runtime.
	collector := metrics.NewCollector()
	eng := engine.New(store, collector, logger)
	simulationService := service.NewSimulationService(eng, store, collector, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	if pool != nil {
		healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	}
	if rdb != nil {
		healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// The registry lock is shared by every control operation; if the probe
	// cannot take it before the readiness deadline, the API is wedged.
	healthHandler.RegisterNonCritical("engine", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			eng.RunningProjects()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("engine registry unresponsive: %w", ctx.Err())
		}
	})

	// HTTP router.
	router := handler.NewRouter(simulationService, healthHandler, logger, cfg.PprofAllowedCIDRs)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		engine:         eng,
		pool:           pool,
		rdb:            rdb,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, blocking until the context is canceled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("store_backend", a.cfg.StoreBackend),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting requests first so no new simulations start mid-drain.
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Stop every running simulation; each stop disconnects its devices.
	if stopped := a.engine.EmergencyStopAll(shutdownCtx); len(stopped) > 0 {
		a.logger.Info("stopped running simulations", slog.Int("count", len(stopped)))
	}

	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
