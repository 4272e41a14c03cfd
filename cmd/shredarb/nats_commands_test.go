package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
	natspkg "github.com/brojonat/shredarb/service/nats"
	"github.com/brojonat/shredarb/service/tracker"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		kind    string
		key     string
		want    string
		wantErr string
	}{
		{"opportunities", "", "arb.opportunities.>", ""},
		{"opportunities", amm.WSOL.String(), "arb.opportunities." + amm.WSOL.String(), ""},
		{"swaps", "", "arb.swaps.>", ""},
		{"graduates", "Mint", "arb.graduates.Mint", ""},
		{"telemetry", "", "telemetry.snapshot", ""},
		{"telemetry", "x", "", "take no key"},
		{"trades", "", "", "unknown event kind"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.key, func(t *testing.T) {
			got, err := subjectFor(tt.kind, tt.key)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintEvent(t *testing.T) {
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)
	mustJSON := func(v any) []byte {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return data
	}

	opp := natspkg.FromOpportunity(engine.Opportunity{ID: "opp-1", BaseMint: amm.WSOL, Profit: 42, AmountIn: 1000})
	grad := natspkg.FromGraduate(tracker.GraduateEvent{Pool: benchKey(7), CoinMint: amm.WSOL, PcMint: benchKey(8)})
	tel := natspkg.TelemetryEvent{Snapshot: metrics.Snapshot{FecSetSuccessCount: 5, Timestamp: now}, PublishedAt: now}

	tests := []struct {
		name    string
		subject string
		data    []byte
		want    string
	}{
		{"opportunity", opp.Subject(), mustJSON(opp), "opportunity opp-1 profit=42 in=1000"},
		{"graduate", grad.Subject(), mustJSON(grad), "graduate token=" + benchKey(8).String()},
		{"telemetry", natspkg.SubjectTelemetry, mustJSON(tel), "telemetry ok=5 failed=0"},
		{"unknown subject", "other.subject", []byte("raw"), "other.subject raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, printEvent(&buf, tt.subject, tt.data, false))
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	t.Run("json passes payload through", func(t *testing.T) {
		var buf bytes.Buffer
		data := mustJSON(opp)
		require.NoError(t, printEvent(&buf, opp.Subject(), data, true))
		assert.Equal(t, string(data)+"\n", buf.String())
	})

	t.Run("bad payload", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, printEvent(&buf, opp.Subject(), []byte("{"), false))
	})
}

func TestRelayCommand_RequiresNATS(t *testing.T) {
	_, err := runApp(t, "--nats-url", "", "nats", "relay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats-url is required")
}

func TestSubscribeCommand_Args(t *testing.T) {
	_, err := runApp(t, "nats", "subscribe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an event kind")

	_, err = runApp(t, "nats", "subscribe", "blocks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event kind")
}
