package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/shredarb/service/config"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/temporal"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("invalid worker configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting execution worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"executor_url", cfg.ExecutorURL,
		"concurrency", cfg.WorkerConcurrency,
	)

	// Activity outcomes are exported on METRICS_ADDR; the worker has no API.
	metricsCollector := metrics.NewMetrics(nil)
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsErrors := make(chan error, 1)
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrors <- err
		}
	}()

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:            cfg.TemporalHost,
		TemporalNamespace:       cfg.TemporalNamespace,
		TaskQueue:               cfg.TemporalTaskQueue,
		ExecutorURL:             cfg.ExecutorURL,
		HTTPClient:              &http.Client{Timeout: cfg.ExecutorTimeout},
		MaxConcurrentExecutions: cfg.WorkerConcurrency,
		Metrics:                 metricsCollector,
		Logger:                  logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	select {
	case err := <-workerErrors:
		// Run also returns on SIGINT/SIGTERM
		if err != nil {
			logger.Error("temporal worker error", "error", err)
			exitCode = 1
		}
	case err := <-metricsErrors:
		logger.Error("metrics server error", "error", err)
		worker.Stop()
		exitCode = 1
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown metrics server", "error", err)
	}
	logger.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// setupLogger creates a JSON logger on stderr at the given level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
