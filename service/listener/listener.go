// Package listener receives shreds over UDP and hands parsed shreds to the
// reconstruction stage through a bounded queue.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/shred"
)

// DefaultBindAddr is the conventional shred stream endpoint.
const DefaultBindAddr = "0.0.0.0:8001"

// Listener reads datagrams from a UDP socket, parses them, and pushes valid
// shreds onto a Queue. It never blocks on downstream consumers.
type Listener struct {
	addr    string
	queue   *Queue[*shred.Shred]
	capture *Capture
	metrics *metrics.Metrics
	logger  *slog.Logger

	bufs sync.Pool

	mu   sync.Mutex
	conn net.PacketConn
}

// Option configures a Listener.
type Option func(*Listener)

// WithCapture records every received datagram into c.
func WithCapture(c *Capture) Option {
	return func(l *Listener) { l.capture = c }
}

// New creates a Listener. queue may be nil when only capturing.
func New(addr string, queue *Queue[*shred.Shred], m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Listener {
	if addr == "" {
		addr = DefaultBindAddr
	}
	l := &Listener{
		addr:    addr,
		queue:   queue,
		metrics: m,
		logger:  logger.With("component", "listener"),
		bufs: sync.Pool{New: func() any {
			b := make([]byte, shred.PacketSize)
			return &b
		}},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run binds the socket and receives until ctx is cancelled. A bind failure is
// returned immediately.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.logger.Info("listening for shreds", "addr", conn.LocalAddr().String())

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		bp := l.bufs.Get().(*[]byte)
		n, _, err := conn.ReadFrom(*bp)
		if err != nil {
			l.bufs.Put(bp)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("udp read failed", "error", err)
			continue
		}
		// Parsed shreds retain their payload, so the datagram is copied out
		// of the pooled buffer.
		raw := make([]byte, n)
		copy(raw, (*bp)[:n])
		l.bufs.Put(bp)

		l.Handle(raw)
	}
}

// LocalAddr returns the bound address, or nil before Run binds.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Handle processes one datagram. It is also the entry point for replayed captures.
func (l *Listener) Handle(raw []byte) {
	if l.capture != nil {
		l.capture.Add(raw)
	}
	if l.queue == nil {
		return
	}

	s, err := shred.Parse(raw)
	if err != nil {
		l.metrics.RecordMalformedPacket(shred.ErrorReason(err))
		l.logger.Debug("dropping malformed datagram", "bytes", len(raw), "error", err)
		return
	}
	l.metrics.RecordCollected(!s.IsData())
	l.queue.Push(s)
}
