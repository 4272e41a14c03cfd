package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wsol = "So11111111111111111111111111111111111111112"
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	ray  = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
)

func poolParams(address, coin, pc string) UpsertPoolParams {
	return UpsertPoolParams{
		Address:        address,
		CoinMint:       coin,
		PcMint:         pc,
		CoinVault:      address + "-coin",
		PcVault:        address + "-pc",
		CoinDecimals:   9,
		PcDecimals:     6,
		FeeNumerator:   25,
		FeeDenominator: 10000,
	}
}

func TestUpsertPool(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("insert", func(t *testing.T) {
		p, err := store.UpsertPool(ctx, poolParams("58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2", wsol, usdc))
		require.NoError(t, err)
		assert.Equal(t, "raydium_amm", p.Program)
		assert.Equal(t, wsol, p.CoinMint)
		assert.Equal(t, uint8(9), p.CoinDecimals)
		assert.Equal(t, uint8(6), p.PcDecimals)
		assert.Equal(t, uint64(25), p.FeeNumerator)
		assert.WithinDuration(t, time.Now(), p.CreatedAt, 5*time.Second)
	})

	t.Run("update keeps created_at", func(t *testing.T) {
		before, err := store.GetPool(ctx, "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2")
		require.NoError(t, err)

		params := poolParams("58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2", wsol, usdc)
		params.FeeNumerator = 30
		after, err := store.UpsertPool(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, uint64(30), after.FeeNumerator)
		assert.Equal(t, before.CreatedAt, after.CreatedAt)
		assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
	})
}

func TestGetPool_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	_, err := store.GetPool(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPoolNotFound)
	assert.ErrorIs(t, store.DeletePool(context.Background(), "missing"), ErrPoolNotFound)
}

func TestListPools(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	for _, p := range []UpsertPoolParams{
		poolParams("pool-a", wsol, usdc),
		poolParams("pool-b", ray, wsol),
		poolParams("pool-c", ray, usdc),
	} {
		_, err := store.UpsertPool(ctx, p)
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		mints []string
		want  []string
	}{
		{"all pools", nil, []string{"pool-a", "pool-b", "pool-c"}},
		{"by coin or pc mint", []string{wsol}, []string{"pool-a", "pool-b"}},
		{"several mints", []string{usdc, ray}, []string{"pool-a", "pool-b", "pool-c"}},
		{"unknown mint", []string{"nothing"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools, err := store.ListPools(ctx, tt.mints)
			require.NoError(t, err)
			var got []string
			for _, p := range pools {
				got = append(got, p.Address)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, store.DeletePool(ctx, "pool-b"))
	pools, err := store.ListPools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, pools, 2)
}

func TestMigrate_Idempotent(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	require.NoError(t, store.Migrate(context.Background()))
	store.MustExec(t, "SELECT 1 FROM pools LIMIT 1")
}
