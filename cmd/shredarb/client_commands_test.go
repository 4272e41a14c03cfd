package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/shredarb/client"
	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/server"
	"github.com/brojonat/shredarb/service/tracker"
)

func newTestServer(t *testing.T) (*httptest.Server, *server.OpportunityHub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	registry := tracker.NewRegistry(
		tracker.Pool{Address: benchKey(10), CoinMint: benchKey(2), PcMint: amm.WSOL, CoinVault: benchKey(11), PcVault: benchKey(12), Fee: amm.DefaultFee, Reserves: amm.Reserves{Coin: 10, Pc: 20}},
		tracker.Pool{Address: benchKey(20), CoinMint: benchKey(3), PcMint: amm.WSOL, CoinVault: benchKey(21), PcVault: benchKey(22), Fee: amm.DefaultFee, Reserves: amm.Reserves{Coin: 30, Pc: 40}},
	)
	hub := server.NewOpportunityHub(8, logger)
	s := server.New(":0", registry, hub, metrics.NewMetrics(reg), reg, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, hub
}

func TestPoolsCommand(t *testing.T) {
	srv, _ := newTestServer(t)

	out, err := runApp(t, "--server-url", srv.URL, "--json", "client", "pools", "--mint", benchKey(3).String())
	require.NoError(t, err)

	var page client.PoolPage
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Pools, 1)
	assert.Equal(t, benchKey(20), page.Pools[0].Address)
	assert.Equal(t, 1, page.Total)

	out, err = runApp(t, "--server-url", srv.URL, "client", "pools")
	require.NoError(t, err)
	assert.Contains(t, out, benchKey(10).String())
	assert.Contains(t, out, benchKey(20).String())
}

func TestPoolCommand(t *testing.T) {
	srv, _ := newTestServer(t)

	out, err := runApp(t, "--server-url", srv.URL, "client", "pool", benchKey(10).String())
	require.NoError(t, err)
	assert.Contains(t, out, "Reserves:      10 / 20")
	assert.Contains(t, out, "Fee:           25/10000")

	_, err = runApp(t, "--server-url", srv.URL, "client", "pool", benchKey(99).String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool not found")

	_, err = runApp(t, "--server-url", srv.URL, "client", "pool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires exactly one argument")
}

func TestTelemetryCommand(t *testing.T) {
	srv, _ := newTestServer(t)

	out, err := runApp(t, "--server-url", srv.URL, "--json", "client", "telemetry")
	require.NoError(t, err)

	var tel client.Telemetry
	require.NoError(t, json.Unmarshal([]byte(out), &tel))
	assert.Equal(t, 2, tel.Pools)
}

func TestStreamCommand_StopsAfterCount(t *testing.T) {
	srv, hub := newTestServer(t)

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		// Publish until the subscriber has read two events.
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
			}
			if hub.Subscribers() == 0 {
				continue
			}
			hub.Opportunity(engine.Opportunity{ID: "opp-" + string(rune('a'+i%26)), BaseMint: amm.WSOL, Profit: uint64(i)})
		}
	}()

	out, err := runApp(t, "--server-url", srv.URL, "--json", "client", "stream", "--count", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var opp engine.Opportunity
		require.NoError(t, json.Unmarshal([]byte(line), &opp))
		assert.Equal(t, amm.WSOL, opp.BaseMint)
	}
}
