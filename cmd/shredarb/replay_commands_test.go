package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/fec"
	"github.com/brojonat/shredarb/service/listener"
	"github.com/brojonat/shredarb/service/pipeline"
	"github.com/brojonat/shredarb/service/shred"
	"github.com/brojonat/shredarb/service/tracker"
)

func replayPool() tracker.Pool {
	return tracker.Pool{
		Address:      benchKey(1),
		CoinMint:     benchKey(2),
		PcMint:       amm.WSOL,
		CoinVault:    benchKey(101),
		PcVault:      benchKey(151),
		CoinDecimals: 6,
		PcDecimals:   9,
		Fee:          amm.DefaultFee,
	}
}

// writeRegistry writes a liquidity file holding p and returns its path.
func writeRegistry(t *testing.T, dir string, p tracker.Pool) string {
	t.Helper()
	doc := fmt.Sprintf(`{"official":[{"id":%q,"baseMint":%q,"quoteMint":%q,"baseVault":%q,"quoteVault":%q,"baseDecimals":%d,"quoteDecimals":%d}],"unOfficial":[]}`,
		p.Address, p.CoinMint, p.PcMint, p.CoinVault, p.PcVault, p.CoinDecimals, p.PcDecimals)
	path := filepath.Join(dir, "raydium.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

// writeCapture writes a save-mode capture of two slots of swaps on p.
func writeCapture(t *testing.T, dir string, p tracker.Pool) (string, int) {
	t.Helper()
	coder, err := fec.NewCoder(0)
	require.NoError(t, err)
	packets, err := pipeline.BuildSwapPackets(pipeline.FixtureConfig{
		Pool:         p,
		Trader:       benchKey(50),
		FirstSlot:    300,
		Slots:        2,
		SwapsPerSlot: 4,
		Variant:      shred.MerkleDataVariant(6, true, false),
		DataPerSet:   2,
		DropPerSet:   1,
	}, coder)
	require.NoError(t, err)

	path := filepath.Join(dir, "packets.json")
	capture := listener.NewCapture(path, 0)
	for _, raw := range packets {
		require.True(t, capture.Add(raw))
	}
	require.NoError(t, capture.Flush())
	return path, len(packets)
}

func TestReplayCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	pool := replayPool()
	registryPath := writeRegistry(t, dir, pool)
	capturePath, n := writeCapture(t, dir, pool)

	out, err := runApp(t, "--json", "replay", "--registry", registryPath, "--pools", capturePath)
	require.NoError(t, err)

	var got replayOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, n, got.Packets)
	assert.Zero(t, got.Malformed)
	assert.Equal(t, uint64(2), got.Batches)
	assert.Equal(t, uint64(10), got.Entries)
	assert.Equal(t, uint64(8), got.Transactions)
	assert.Zero(t, got.PartialErrors)
	require.Len(t, got.Pools, 1)
	assert.Equal(t, pool.Address, got.Pools[0].Address)
}

func TestReplayCommand_Text(t *testing.T) {
	dir := t.TempDir()
	pool := replayPool()
	registryPath := writeRegistry(t, dir, pool)
	capturePath, n := writeCapture(t, dir, pool)

	out, err := runApp(t, "replay", "--registry", registryPath, "--pools", capturePath)
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Packets:       %d (0 malformed)", n))
	assert.Contains(t, out, "Transactions:  8")
	assert.Contains(t, out, pool.Address.String())
}

func TestReplayCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	pool := replayPool()
	registryPath := writeRegistry(t, dir, pool)
	capturePath, _ := writeCapture(t, dir, pool)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing capture", []string{"replay", "--registry", registryPath}, "requires exactly one argument"},
		{"bad mint", []string{"replay", "--registry", registryPath, "--mint", "nope", capturePath}, "invalid mint"},
		{"save mode", []string{"replay", "--registry", registryPath, "--mode", "save", capturePath}, "cannot run in mode"},
		{"missing registry", []string{"replay", "--registry", filepath.Join(dir, "missing.json"), capturePath}, "failed to read pool registry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBenchCommand(t *testing.T) {
	out, err := runApp(t, "--json", "bench",
		"--slots", "2",
		"--swaps-per-slot", "2",
		"--data-per-set", "4",
		"--drop-per-set", "1",
		"--iterations", "2",
	)
	require.NoError(t, err)

	var got benchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Positive(t, got.Packets)
	assert.Equal(t, 2, got.Iterations)
	assert.Equal(t, uint64(4), got.Stats.Updates)
	assert.Equal(t, uint64(4), got.Stats.Transactions)
}

func TestBenchCommand_RejectsZeroIterations(t *testing.T) {
	_, err := runApp(t, "bench", "--iterations", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterations must be positive")
}
