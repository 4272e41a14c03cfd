package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/db"
	solanaclient "github.com/brojonat/shredarb/service/solana"
	"github.com/brojonat/shredarb/service/tracker"
)

// Source produces the pools a registry starts with.
type Source interface {
	Load(ctx context.Context) ([]tracker.Pool, error)
}

// PoolStore is the subset of db.Store the registry uses.
type PoolStore interface {
	ListPools(ctx context.Context, mints []string) ([]*db.Pool, error)
	UpsertPool(ctx context.Context, params db.UpsertPoolParams) (*db.Pool, error)
}

// StoreSource reads pools from Postgres.
type StoreSource struct {
	Store PoolStore
	Mints []solana.PublicKey
}

// Load implements Source.
func (s StoreSource) Load(ctx context.Context) ([]tracker.Pool, error) {
	mints := make([]string, len(s.Mints))
	for i, m := range s.Mints {
		mints[i] = m.String()
	}
	rows, err := s.Store.ListPools(ctx, mints)
	if err != nil {
		return nil, err
	}
	pools := make([]tracker.Pool, 0, len(rows))
	for _, row := range rows {
		p, err := poolFromRow(row)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func poolFromRow(row *db.Pool) (tracker.Pool, error) {
	p := tracker.Pool{
		CoinDecimals: row.CoinDecimals,
		PcDecimals:   row.PcDecimals,
		Fee:          amm.Fee{Numerator: row.FeeNumerator, Denominator: row.FeeDenominator},
	}
	for _, f := range []struct {
		dst *solana.PublicKey
		val string
	}{
		{&p.Address, row.Address},
		{&p.CoinMint, row.CoinMint},
		{&p.PcMint, row.PcMint},
		{&p.CoinVault, row.CoinVault},
		{&p.PcVault, row.PcVault},
	} {
		k, err := solana.PublicKeyFromBase58(f.val)
		if err != nil {
			return tracker.Pool{}, fmt.Errorf("%w %s: %q: %v", ErrInvalidPool, row.Address, f.val, err)
		}
		*f.dst = k
	}
	if err := p.Fee.Validate(); err != nil {
		return tracker.Pool{}, fmt.Errorf("%w %s: %v", ErrInvalidPool, row.Address, err)
	}
	return p, nil
}

// Import writes pools to the store and returns how many were written.
func Import(ctx context.Context, store PoolStore, pools []tracker.Pool) (int, error) {
	for i, p := range pools {
		fee := p.Fee
		if fee == (amm.Fee{}) {
			fee = amm.DefaultFee
		}
		_, err := store.UpsertPool(ctx, db.UpsertPoolParams{
			Address:        p.Address.String(),
			Program:        amm.ProgramRaydiumAMM,
			CoinMint:       p.CoinMint.String(),
			PcMint:         p.PcMint.String(),
			CoinVault:      p.CoinVault.String(),
			PcVault:        p.PcVault.String(),
			CoinDecimals:   p.CoinDecimals,
			PcDecimals:     p.PcDecimals,
			FeeNumerator:   fee.Numerator,
			FeeDenominator: fee.Denominator,
		})
		if err != nil {
			return i, fmt.Errorf("failed to import pool %s: %w", p.Address, err)
		}
	}
	return len(pools), nil
}

// BalanceFetcher reads token account balances.
type BalanceFetcher interface {
	TokenBalance(ctx context.Context, account solana.PublicKey) (solanaclient.TokenBalance, error)
}

// Hydrate fills the reserves of pools from their vault balances, fetching
// with up to concurrency requests in flight. Pools whose vaults cannot be
// read keep their reserves and are counted in the returned failure count.
func Hydrate(ctx context.Context, fetcher BalanceFetcher, pools []tracker.Pool, concurrency int, logger *slog.Logger) ([]tracker.Pool, int, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	out := append([]tracker.Pool(nil), pools...)

	var (
		g        errgroup.Group
		failures atomic.Int64
	)
	g.SetLimit(concurrency)
	for i := range out {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			reserves, err := vaultReserves(ctx, fetcher, out[i])
			if err != nil {
				logger.WarnContext(ctx, "failed to hydrate pool reserves",
					"pool", out[i].Address.String(),
					"error", err,
				)
				failures.Inc()
				return nil
			}
			out[i].Reserves = reserves
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, int(failures.Load()), err
	}
	logger.InfoContext(ctx, "hydrated pool reserves", "pools", len(out), "failures", failures.Load())
	return out, int(failures.Load()), nil
}

func vaultReserves(ctx context.Context, fetcher BalanceFetcher, p tracker.Pool) (amm.Reserves, error) {
	coin, err := fetcher.TokenBalance(ctx, p.CoinVault)
	if err != nil {
		return amm.Reserves{}, err
	}
	pc, err := fetcher.TokenBalance(ctx, p.PcVault)
	if err != nil {
		return amm.Reserves{}, err
	}
	return amm.Reserves{Coin: coin.Amount, Pc: pc.Amount}, nil
}
