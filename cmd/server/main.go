package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/stellarpay/service/config"
	"github.com/brojonat/stellarpay/service/db"
	"github.com/brojonat/stellarpay/service/metrics"
	"github.com/brojonat/stellarpay/service/payment"
	"github.com/brojonat/stellarpay/service/server"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/brojonat/stellarpay/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load and validate configuration from environment
	// This fails fast if any setting is invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"horizon_url", cfg.HorizonURL,
		"network", cfg.StellarNetwork,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Ledger adapters
	horizon := stellar.NewHorizon(
		stellar.NewHorizonClient(cfg.HorizonURL, cfg.HTTPTimeout),
		cfg.NetworkPassphrase,
		metricsCollector,
		logger,
	)
	inspector := stellar.NewInspector(horizon, logger)
	query := stellar.NewQueryClient(cfg.HorizonURL, &http.Client{Timeout: cfg.HTTPTimeout}, metricsCollector, logger)
	normalizer := stellar.NewNormalizer(query, logger)

	// Per-source guard: distributed when Redis is configured
	var locker payment.SourceLocker = payment.NewLocalLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		locker = payment.NewRedisLocker(rdb, 0)
		logger.Info("connected to redis, source locks are distributed")
	}

	submitter := payment.NewSubmitter(inspector, horizon, locker, metricsCollector, logger)

	deps := server.Deps{
		Submitter:    submitter,
		Transactions: normalizer,
		Balances:     inspector,
		Metrics:      metricsCollector,
	}

	// Audit trail (optional)
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store := db.NewStore(dbPool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		deps.Store = store
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, payments will not be recorded")
	}

	// Reconcile-by-hash workflows
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, submitted payments will not be reconciled", "error", err)
	} else {
		defer temporalClient.Close()
		deps.Reconciler = temporalClient
		deps.ReconcileTimeout = cfg.ReconcileTimeout
	}

	// SSE re-broadcast of the worker's payment events
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("NATS unavailable, streaming endpoints disabled", "error", err)
	} else {
		deps.Feed = ssePublisher
	}

	httpServer := server.New(cfg.ServerAddr, deps, version, logger)

	logger.Info("server initialized, all dependencies ready",
		"horizon_url", cfg.HorizonURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// In-flight submissions may wait out the envelope window.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), (stellar.SubmissionTimeoutSeconds+10)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
