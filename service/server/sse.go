package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
	natspkg "github.com/brojonat/shredarb/service/nats"
)

const keepaliveInterval = 10 * time.Second

// OpportunityHub fans opportunities out to SSE clients. It is an engine.Sink;
// a client that falls behind loses opportunities rather than stalling the engine.
type OpportunityHub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	buffer int
	logger *slog.Logger
}

type subscriber struct {
	ch chan engine.Opportunity
	// baseMint filters by opportunity base mint; zero matches all.
	baseMint solana.PublicKey
}

var _ engine.Sink = (*OpportunityHub)(nil)

// NewOpportunityHub creates a hub with buffer slots per client.
func NewOpportunityHub(buffer int, logger *slog.Logger) *OpportunityHub {
	if buffer <= 0 {
		buffer = 16
	}
	return &OpportunityHub{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger.With("component", "sse_hub"),
	}
}

// Subscribe registers a client. The channel is closed by the returned cancel
// func or by Close.
func (h *OpportunityHub) Subscribe(baseMint solana.PublicKey) (<-chan engine.Opportunity, func()) {
	sub := &subscriber{ch: make(chan engine.Opportunity, h.buffer), baseMint: baseMint}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

func (h *OpportunityHub) Opportunity(opp engine.Opportunity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.baseMint != (solana.PublicKey{}) && !sub.baseMint.Equals(opp.BaseMint) {
			continue
		}
		select {
		case sub.ch <- opp:
		default:
			h.logger.Debug("sse client behind, dropping opportunity", "opportunity", opp.ID)
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *OpportunityHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every client.
func (h *OpportunityHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// RelayFromNATS feeds the hub from the opportunities published to JetStream,
// for a server process that does not run the engine itself. It returns once
// the consumer is running; the returned func stops it.
func RelayFromNATS(ctx context.Context, natsURL string, hub *OpportunityHub, logger *slog.Logger) (func(), error) {
	logger = logger.With("component", "nats_relay")

	nc, err := nats.Connect(natsURL,
		nats.Name("shredarb-sse-relay"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: natspkg.SubjectOpportunities + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy, // Only deliver new messages after consumer creation
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		var event natspkg.OpportunityEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Warn("failed to unmarshal opportunity event", "subject", msg.Subject(), "error", err)
			return
		}
		hub.Opportunity(event.Opportunity)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to start consuming messages: %w", err)
	}

	logger.Info("relaying opportunities from NATS", "nats_url", natsURL)
	return func() {
		cc.Stop()
		nc.Close()
	}, nil
}

// handleStreamOpportunities streams opportunities as Server-Sent Events.
// GET /api/v1/stream/opportunities?base_mint=MINT
func handleStreamOpportunities(hub *OpportunityHub, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var baseMint solana.PublicKey
		if s := r.URL.Query().Get("base_mint"); s != "" {
			key, err := parseKey(s)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			baseMint = key
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		events, cancel := hub.Subscribe(baseMint)
		defer cancel()

		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}
		logger.DebugContext(r.Context(), "SSE client connected",
			"base_mint", baseMint,
			"remote_addr", r.RemoteAddr,
		)

		fmt.Fprintf(w, "event: connected\ndata: {\"base_mint\":%q}\n\n", filterName(baseMint))
		flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case opp, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(opp)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal opportunity", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: opportunity\ndata: %s\n\n", data)
				flush()
				if m != nil {
					m.RecordSSEEventSent("opportunity")
				}

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

func filterName(mint solana.PublicKey) string {
	if mint == (solana.PublicKey{}) {
		return "all"
	}
	return mint.String()
}
