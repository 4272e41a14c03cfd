package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/shredarb/service/config"
	"github.com/brojonat/shredarb/service/db"
	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/listener"
	"github.com/brojonat/shredarb/service/metrics"
	natspkg "github.com/brojonat/shredarb/service/nats"
	"github.com/brojonat/shredarb/service/pipeline"
	"github.com/brojonat/shredarb/service/registry"
	"github.com/brojonat/shredarb/service/server"
	"github.com/brojonat/shredarb/service/solana"
	"github.com/brojonat/shredarb/service/temporal"
	"github.com/brojonat/shredarb/service/tracker"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting shredarb",
		"mode", cfg.Mode,
		"shred_addr", cfg.ShredBindAddr,
		"server_addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Save mode only records datagrams; nothing downstream is built
	if cfg.Mode == config.ModeSave {
		runCapture(ctx, cfg, metricsCollector, logger)
		return
	}

	// Load the pool registry and hydrate reserves
	pools, err := loadPools(ctx, cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to load pool registry", "error", err)
		os.Exit(1)
	}
	poolRegistry := tracker.NewRegistry(pools...)
	logger.Info("pool registry loaded", "pools", poolRegistry.Len())

	// Opportunities always reach SSE subscribers through the hub
	hub := server.NewOpportunityHub(64, logger)
	sinks := []engine.Sink{hub}
	var opts []pipeline.Option
	var background []func(context.Context)

	// NATS is optional; without it events only reach SSE subscribers.
	var snapshotPublisher metrics.SnapshotPublisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		logger.Info("connected to NATS", "url", cfg.NATSURL)

		natsSink := natspkg.NewSink(natsPublisher, 1024, natspkg.PublishLargeSwaps, metricsCollector, logger)
		sinks = append(sinks, natsSink)
		opts = append(opts, pipeline.WithEventSink(natsSink))
		background = append(background, natsSink.Run)
		snapshotPublisher = natsPublisher
	}

	// Initialize Temporal client when execution is enabled
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()

		executor := temporal.NewExecutor(temporalClient, 64, metricsCollector, logger)
		sinks = append(sinks, executor)
		background = append(background, executor.Run)
	}

	// Periodic telemetry snapshots, published to NATS when connected
	reporter := metrics.NewReporter(metricsCollector, snapshotPublisher, cfg.TelemetryInterval, nil, logger)
	background = append(background, reporter.Run)

	// Initialize pipeline, shred listener and HTTP server
	opts = append(opts, pipeline.WithOpportunitySinks(sinks...))
	p, err := pipeline.New(pipeline.FromConfig(cfg), poolRegistry, metricsCollector, logger, opts...)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	shredListener := listener.New(cfg.ShredBindAddr, p.Queue(), metricsCollector, logger)
	httpServer := server.New(cfg.ServerAddr, poolRegistry, hub, metricsCollector, nil, logger)

	logger.Info("all dependencies ready",
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
		"opportunity_sinks", len(sinks),
	)

	// Start background sinks and reporters
	for _, run := range background {
		go run(ctx)
	}

	// Start ingest and HTTP server in background
	pipelineErrors := make(chan error, 1)
	go func() {
		pipelineErrors <- p.Run(ctx)
	}()
	listenerErrors := make(chan error, 1)
	go func() {
		listenerErrors <- shredListener.Run(ctx)
	}()
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or a component error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case err := <-listenerErrors:
		logger.Error("listener error", "error", err)
		os.Exit(1)
	case err := <-pipelineErrors:
		logger.Error("pipeline stopped unexpectedly", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop ingest first so nothing new reaches the sinks.
		cancel()
		<-listenerErrors
		<-pipelineErrors

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("shutdown complete", "stats", p.Stats())
	}
}

// runCapture records raw datagrams to the capture file and returns once the
// limit is reached or a signal arrives.
func runCapture(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture := listener.NewCapture(cfg.CapturePath, cfg.CaptureLimit)
	l := listener.New(cfg.ShredBindAddr, nil, m, logger, listener.WithCapture(capture))
	logger.Info("capturing datagrams", "path", cfg.CapturePath, "limit", cfg.CaptureLimit)

	if err := pipeline.Capture(ctx, l, capture, 0, logger); err != nil {
		logger.Error("capture failed", "error", err)
		os.Exit(1)
	}
}

// loadPools reads the registry from Postgres when DATABASE_URL is set and
// from the liquidity file otherwise, then hydrates reserves over RPC when
// SOLANA_RPC_URL is set.
func loadPools(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) ([]tracker.Pool, error) {
	var source registry.Source = registry.FileSource{
		Path:  cfg.PoolRegistryPath,
		Mints: cfg.MintsOfInterest,
	}

	if cfg.DatabaseURL != "" {
		// Initialize database connection pool
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer dbPool.Close()

		// Verify database connection
		if err := dbPool.Ping(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to database")
		source = registry.StoreSource{Store: db.NewStore(dbPool), Mints: cfg.MintsOfInterest}
	}

	pools, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, errors.New("pool registry is empty")
	}

	// Reserves stay as loaded without an RPC endpoint
	if cfg.SolanaRPCURL == "" {
		return pools, nil
	}
	endpoint, err := solana.SelectRandomEndpoint(solana.SplitEndpoints(cfg.SolanaRPCURL))
	if err != nil {
		return nil, err
	}
	// Note: For premium RPC endpoints, include API key in the URL
	rpcClient := solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), m, logger)
	hydrated, _, err := registry.Hydrate(ctx, rpcClient, pools, 8, logger)
	if err != nil {
		return nil, err
	}
	return hydrated, nil
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
