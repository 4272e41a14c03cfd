package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/tracker"
)

// Sink forwards engine and tracker events to a Publisher from its own
// goroutine. Events arriving while the buffer is full are dropped, so the
// hot path never waits on the network.
type Sink struct {
	publisher Publisher
	events    chan func(context.Context) error
	// swaps controls whether every applied swap is published or only large ones.
	swaps   SwapPolicy
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// SwapPolicy selects which swaps a Sink publishes.
type SwapPolicy int

const (
	PublishNoSwaps SwapPolicy = iota
	PublishLargeSwaps
	PublishAllSwaps
)

var (
	_ engine.Sink  = (*Sink)(nil)
	_ tracker.Sink = (*Sink)(nil)
)

// NewSink creates a Sink with room for buffer pending events.
func NewSink(publisher Publisher, buffer int, swaps SwapPolicy, m *metrics.Metrics, logger *slog.Logger) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Sink{
		publisher: publisher,
		events:    make(chan func(context.Context) error, buffer),
		swaps:     swaps,
		timeout:   5 * time.Second,
		metrics:   m,
		logger:    logger.With("component", "nats_sink"),
	}
}

func (s *Sink) Opportunity(opp engine.Opportunity) {
	event := FromOpportunity(opp)
	s.enqueue(SubjectOpportunities, func(ctx context.Context) error {
		return s.publisher.PublishOpportunity(ctx, event)
	})
}

func (s *Sink) Swap(ev tracker.SwapEvent) {
	switch {
	case s.swaps == PublishNoSwaps:
		return
	case s.swaps == PublishLargeSwaps && !ev.Large:
		return
	}
	event := FromSwap(ev)
	s.enqueue(SubjectSwaps, func(ctx context.Context) error {
		return s.publisher.PublishSwap(ctx, event)
	})
}

func (s *Sink) Graduate(ev tracker.GraduateEvent) {
	event := FromGraduate(ev)
	s.enqueue(SubjectGraduates, func(ctx context.Context) error {
		return s.publisher.PublishGraduate(ctx, event)
	})
}

func (s *Sink) enqueue(label string, publish func(context.Context) error) {
	select {
	case s.events <- publish:
	default:
		if s.metrics != nil {
			s.metrics.RecordNATSPublish(label, "dropped", 0)
		}
		s.logger.Warn("event buffer full, dropping event", "subject", label)
	}
}

// Run publishes buffered events until ctx is cancelled, then flushes what
// is already queued using a fresh timeout.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case publish := <-s.events:
			s.send(ctx, publish)
		}
	}
}

func (s *Sink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	for {
		select {
		case publish := <-s.events:
			s.send(ctx, publish)
		default:
			return
		}
	}
}

func (s *Sink) send(ctx context.Context, publish func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := publish(ctx); err != nil {
		s.logger.Warn("failed to publish event", "error", err)
	}
}
