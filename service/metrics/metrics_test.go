package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_TracksTelemetryCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCollected(false)
	m.RecordCollected(false)
	m.RecordCollected(true)
	m.RecordFecSetOpened()
	m.RecordFecSetOpened()
	m.RecordFecSetOpened()
	m.RecordFecSetSuccess(32, true, 0.0001)
	m.RecordFecSetFailure()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := m.Snapshot(now)

	assert.Equal(t, Snapshot{
		FecSetFailureCount:   1,
		FecSetSuccessCount:   1,
		FecSetsRemaining:     1,
		TotalCollectedCoding: 1,
		TotalCollectedData:   2,
		TotalProcessedData:   32,
		Timestamp:            now,
	}, snap)
}

func TestNewMetrics_ExposesCounterFuncs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordQueueDropped()
	m.RecordLateShred()
	m.RecordMalformedPacket("too_short")
	m.RecordMalformedPacket("too_short")

	values := gather(t, reg)
	assert.Equal(t, 1.0, values["queue_dropped_total"])
	assert.Equal(t, 1.0, values["late_shreds_total"])
	assert.Equal(t, 2.0, values["malformed_packets_total"])
	assert.Equal(t, 0.0, values["fec_sets_remaining"])
}

// gather sums every sample of each counter or gauge family.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	return values
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
}

func (p *recordingPublisher) PublishTelemetry(ctx context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

func TestReporter_PublishesOnEveryTick(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordCollected(true)

	pub := &recordingPublisher{err: errors.New("nats down")}
	mock := clock.NewMock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewReporter(m, pub, 6*time.Second, mock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mock.Add(6 * time.Second)
		return pub.count() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, uint64(1), pub.snaps[0].TotalCollectedCoding)
}

func TestHTTPMetricsMiddleware_RecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	handler := HTTPMetricsMiddleware(m, "/api/v1/pools")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pools", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, gather(t, reg)["http_requests_total"])
}

func TestStatusCodeToString(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		304: "3xx",
		429: "4xx",
		503: "5xx",
		99:  "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusCodeToString(code))
	}
}

func TestTimer_ObservesElapsed(t *testing.T) {
	var got float64
	done := Timer(time.Now().Add(-50*time.Millisecond), func(seconds float64) { got = seconds })
	done()
	assert.GreaterOrEqual(t, got, 0.05)
}

func TestRecordRPCCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordRPCCall("getTokenAccountBalance", "success", "mainnet", 0.1)
	m.RecordRPCCall("getTokenAccountBalance", "error", "mainnet", 0.2)
	assert.Equal(t, 2.0, gather(t, reg)["solana_rpc_calls_total"])
}
