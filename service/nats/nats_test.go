package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/tracker"
)

var _ metrics.SnapshotPublisher = (*JetStreamPublisher)(nil)

func key(seed byte) solana.PublicKey {
	return solana.PublicKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubjects(t *testing.T) {
	opp := FromOpportunity(engine.Opportunity{BaseMint: amm.WSOL})
	assert.Equal(t, "arb.opportunities."+amm.WSOL.String(), opp.Subject())

	swap := FromSwap(tracker.SwapEvent{Pool: key(1)})
	assert.Equal(t, "arb.swaps."+key(1).String(), swap.Subject())

	tests := []struct {
		name       string
		coin, pc   solana.PublicKey
		wantSuffix solana.PublicKey
	}{
		{"token is coin", key(7), amm.WSOL, key(7)},
		{"token is pc", amm.WSOL, key(8), key(8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := FromGraduate(tracker.GraduateEvent{CoinMint: tt.coin, PcMint: tt.pc})
			assert.Equal(t, "arb.graduates."+tt.wantSuffix.String(), ev.Subject())
		})
	}
}

func TestOpportunityEvent_FlattensJSON(t *testing.T) {
	event := FromOpportunity(engine.Opportunity{
		ID:       "1-2-3-pool",
		BaseMint: amm.WSOL,
		AmountIn: 100,
		Profit:   7,
		Trigger:  tracker.OrderingKey{Slot: 1, TxIndex: 2, Instruction: 3},
	})
	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "1-2-3-pool", decoded["id"])
	assert.Equal(t, amm.WSOL.String(), decoded["base_mint"])
	assert.Equal(t, float64(7), decoded["profit"])
	assert.Contains(t, decoded, "published_at")
	assert.NotContains(t, decoded, "Opportunity")
}

func TestSink_PublishesInOrder(t *testing.T) {
	mock := NewMockPublisher()
	sink := NewSink(mock, 16, PublishLargeSwaps, metrics.NewMetrics(prometheus.NewRegistry()), testLogger())

	sink.Opportunity(engine.Opportunity{ID: "a", BaseMint: amm.WSOL})
	sink.Swap(tracker.SwapEvent{Pool: key(1), Large: false})
	sink.Swap(tracker.SwapEvent{Pool: key(2), Large: true})
	sink.Graduate(tracker.GraduateEvent{CoinMint: key(3), PcMint: amm.WSOL})
	sink.Opportunity(engine.Opportunity{ID: "b", BaseMint: amm.WSOL})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(mock.Opportunities()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	opps := mock.Opportunities()
	assert.Equal(t, "a", opps[0].ID)
	assert.Equal(t, "b", opps[1].ID)
	require.Len(t, mock.Swaps(), 1)
	assert.Equal(t, key(2), mock.Swaps()[0].Pool)
	assert.Len(t, mock.Graduates(), 1)
}

func TestSink_SwapPolicy(t *testing.T) {
	tests := []struct {
		policy SwapPolicy
		want   int
	}{
		{PublishNoSwaps, 0},
		{PublishLargeSwaps, 1},
		{PublishAllSwaps, 2},
	}
	for _, tt := range tests {
		mock := NewMockPublisher()
		sink := NewSink(mock, 4, tt.policy, nil, testLogger())
		sink.Swap(tracker.SwapEvent{Large: true})
		sink.Swap(tracker.SwapEvent{})
		assert.Len(t, sink.events, tt.want, "policy %d", tt.policy)
	}
}

func TestSink_DropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	mock := NewMockPublisher()
	sink := NewSink(mock, 2, PublishAllSwaps, metrics.NewMetrics(reg), testLogger())

	for i := 0; i < 5; i++ {
		sink.Opportunity(engine.Opportunity{BaseMint: amm.WSOL})
	}
	assert.Len(t, sink.events, 2)

	families, err := reg.Gather()
	require.NoError(t, err)
	var dropped float64
	for _, mf := range families {
		if mf.GetName() != "nats_messages_published_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == "dropped" {
					dropped += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 3.0, dropped)

	// cancelled before Run: queued events are still flushed
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Run(ctx)
	assert.Len(t, mock.Opportunities(), 2)
}

func TestSink_PublishErrorsDoNotStop(t *testing.T) {
	mock := NewMockPublisher()
	mock.SetPublishError(errors.New("nats: no responders available for request"))
	sink := NewSink(mock, 4, PublishAllSwaps, nil, testLogger())
	sink.Opportunity(engine.Opportunity{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { sink.Run(ctx) })
	assert.Empty(t, mock.Opportunities())
	assert.Empty(t, sink.events)
}

func TestMockPublisher_Telemetry(t *testing.T) {
	mock := NewMockPublisher()
	require.NoError(t, mock.PublishTelemetry(context.Background(), metrics.Snapshot{FecSetSuccessCount: 3}))
	assert.Equal(t, uint64(3), mock.Telemetry()[0].FecSetSuccessCount)
	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())
}
