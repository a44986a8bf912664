// Package main is the entry point for the onboarding server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/onboard/internal/config"
	"github.com/pitabwire/onboard/internal/notify"
	"github.com/pitabwire/onboard/internal/observability"
	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/internal/openapi"
	"github.com/pitabwire/onboard/internal/store"
	"github.com/pitabwire/onboard/internal/transport"
	"github.com/pitabwire/onboard/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "onboard", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Verify the embedded API contract before serving it.
	if err := openapi.Validate(ctx); err != nil {
		logger.Error("contract validation failed", zap.Error(err))
		return 1
	}

	// Step 5: Open the entity store.
	entities, entitiesCloser, err := buildEntityStore(ctx, cfg.Entities, logger)
	if err != nil {
		logger.Error("entity store initialization failed", zap.Error(err))
		return 1
	}
	defer entitiesCloser()

	// Step 6: Open the workflow session store.
	sessions, sessionsCloser, err := buildSessionStore(ctx, cfg.Workflow.Store, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	defer sessionsCloser()

	// Step 7: Pick the verification-code notifier.
	notifier := buildNotifier(cfg.Notifier, logger)

	// Step 8: Build the workflow registry and engine.
	registry := onboarding.Registry(entities, notifier, logger)
	engine := workflow.NewEngine(registry, sessions, cfg.Workflow.InstanceTTL, logger, metrics)

	// Step 9: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		WorkflowsRegistered: func() bool { return len(registry.Kinds()) > 0 },
		EntityStore:         entities,
		SessionStore:        sessions,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Engine:      engine,
		Metrics:     metrics,
		Readiness:   readinessChecks,
		OpenAPISpec: openapi.Spec(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	sweepInterval := cfg.Workflow.ExpiryCheckInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go engine.RunExpirySweeper(bgCtx, sweepInterval)

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Strings("workflows", registry.Kinds()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Flush traces.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := tracingShutdown(flushCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildEntityStore opens the configured entity store. The returned closer is
// always safe to call.
func buildEntityStore(ctx context.Context, cfg config.EntityStoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("entity store running in memory, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil

	case "postgres":
		pool, err := openPgPool(ctx, cfg.DSNEnv, cfg.MaxOpenConns, cfg.ConnMaxLifetime)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPgStore(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported entity store driver %q", cfg.Driver)
	}
}

// buildSessionStore opens the configured workflow session store.
func buildSessionStore(ctx context.Context, cfg config.SessionStoreConfig, logger *zap.Logger) (workflow.SessionStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("session store running in memory, in-flight workflows are lost on restart")
		return workflow.NewMemorySessionStore(), func() {}, nil

	case "postgres":
		pool, err := openPgPool(ctx, cfg.DSNEnv, 0, 0)
		if err != nil {
			return nil, nil, err
		}
		return workflow.NewPgSessionStore(pool), pool.Close, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("environment variable %s is not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return workflow.NewRedisSessionStore(client), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported session store driver %q", cfg.Driver)
	}
}

func buildNotifier(cfg config.NotifierConfig, logger *zap.Logger) notify.Notifier {
	if cfg.Driver == "smtp" {
		return notify.NewSMTPNotifier(cfg.SMTP)
	}
	logger.Warn("verification codes are written to the log, no mail is sent")
	return notify.NewLogNotifier(logger)
}

// openPgPool connects a pgx pool using the DSN held in the named environment
// variable. Zero-valued limits keep pgxpool's defaults.
func openPgPool(ctx context.Context, dsnEnv string, maxConns int, maxLifetime time.Duration) (*pgxpool.Pool, error) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		return nil, fmt.Errorf("environment variable %s is not set", dsnEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN from %s: %w", dsnEnv, err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	if maxLifetime > 0 {
		poolCfg.MaxConnLifetime = maxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}
