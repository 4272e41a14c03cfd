package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/shredarb/service/metrics"
)

// Publisher defines the interface for publishing pipeline events to NATS.
type Publisher interface {
	PublishOpportunity(ctx context.Context, event *OpportunityEvent) error
	PublishSwap(ctx context.Context, event *SwapEvent) error
	PublishGraduate(ctx context.Context, event *GraduateEvent) error
	// PublishTelemetry lets a Publisher serve as the telemetry reporter's sink.
	PublishTelemetry(ctx context.Context, snap metrics.Snapshot) error

	// Close closes the connection to NATS.
	Close() error
}

const (
	// StreamName is the name of the JetStream stream for pipeline events.
	StreamName = "SHREDARB"

	SubjectOpportunities = "arb.opportunities"
	SubjectSwaps         = "arb.swaps"
	SubjectGraduates     = "arb.graduates"
	SubjectTelemetry     = "telemetry.snapshot"

	// StreamRetention is how long messages are retained. Opportunities go
	// stale within a slot, so a day is plenty for replaying a session.
	StreamRetention = 24 * time.Hour
)

// StreamSubjects are the subject patterns captured by the stream.
var StreamSubjects = []string{"arb.>", SubjectTelemetry}

// JetStreamPublisher publishes pipeline events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("shredarb-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger.With("component", "nats_publisher"),
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	publisher.logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)
	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Arbitrage opportunities, pool updates and telemetry",
		Subjects:    StreamSubjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
	if _, err = p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// publish marshals v and publishes it. label is the subject family used for
// metrics so per-pool subjects do not explode label cardinality.
func (p *JetStreamPublisher) publish(ctx context.Context, label, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", label, err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.RecordNATSPublish(label, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published event", "subject", subject)
	return nil
}

func (p *JetStreamPublisher) PublishOpportunity(ctx context.Context, event *OpportunityEvent) error {
	return p.publish(ctx, SubjectOpportunities, event.Subject(), event)
}

func (p *JetStreamPublisher) PublishSwap(ctx context.Context, event *SwapEvent) error {
	return p.publish(ctx, SubjectSwaps, event.Subject(), event)
}

func (p *JetStreamPublisher) PublishGraduate(ctx context.Context, event *GraduateEvent) error {
	return p.publish(ctx, SubjectGraduates, event.Subject(), event)
}

func (p *JetStreamPublisher) PublishTelemetry(ctx context.Context, snap metrics.Snapshot) error {
	event := &TelemetryEvent{Snapshot: snap, PublishedAt: time.Now().UTC()}
	return p.publish(ctx, SubjectTelemetry, SubjectTelemetry, event)
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
