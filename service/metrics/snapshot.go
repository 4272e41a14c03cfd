package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Snapshot is the periodic telemetry report.
type Snapshot struct {
	FecSetFailureCount   uint64    `json:"fec_set_failure_count"`
	FecSetSuccessCount   uint64    `json:"fec_set_success_count"`
	FecSetsRemaining     int64     `json:"fec_sets_remaining"`
	TotalCollectedCoding uint64    `json:"total_collected_coding"`
	TotalCollectedData   uint64    `json:"total_collected_data"`
	TotalProcessedData   uint64    `json:"total_processed_data"`
	Timestamp            time.Time `json:"timestamp"`
}

// Snapshot reads the telemetry counters. Each counter is read atomically;
// the snapshot as a whole is not.
func (m *Metrics) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		FecSetFailureCount:   m.fecSetFailures.Load(),
		FecSetSuccessCount:   m.fecSetSuccesses.Load(),
		FecSetsRemaining:     m.fecSetsRemaining.Load(),
		TotalCollectedCoding: m.collectedCoding.Load(),
		TotalCollectedData:   m.collectedData.Load(),
		TotalProcessedData:   m.processedData.Load(),
		Timestamp:            now.UTC(),
	}
}

// SnapshotPublisher receives telemetry snapshots.
type SnapshotPublisher interface {
	PublishTelemetry(ctx context.Context, snap Snapshot) error
}

// Reporter logs a snapshot every interval and forwards it to an optional publisher.
type Reporter struct {
	metrics   *Metrics
	publisher SnapshotPublisher
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewReporter creates a Reporter. publisher may be nil.
func NewReporter(m *Metrics, publisher SnapshotPublisher, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Reporter {
	if clk == nil {
		clk = clock.New()
	}
	return &Reporter{
		metrics:   m,
		publisher: publisher,
		interval:  interval,
		clock:     clk,
		logger:    logger.With("component", "telemetry"),
	}
}

// Run reports until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	snap := r.metrics.Snapshot(r.clock.Now())
	r.logger.Info("telemetry",
		"fec_set_failure_count", snap.FecSetFailureCount,
		"fec_set_success_count", snap.FecSetSuccessCount,
		"fec_sets_remaining", snap.FecSetsRemaining,
		"total_collected_coding", snap.TotalCollectedCoding,
		"total_collected_data", snap.TotalCollectedData,
		"total_processed_data", snap.TotalProcessedData,
	)
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishTelemetry(ctx, snap); err != nil {
		r.logger.Warn("failed to publish telemetry", "error", err)
	}
}
