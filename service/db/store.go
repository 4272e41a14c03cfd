package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPoolNotFound is returned when no pool has the requested address.
var ErrPoolNotFound = errors.New("pool not found")

// Schema creates the tables the store reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	address          TEXT PRIMARY KEY,
	program          TEXT NOT NULL DEFAULT 'raydium_amm',
	coin_mint        TEXT NOT NULL,
	pc_mint          TEXT NOT NULL,
	coin_vault       TEXT NOT NULL,
	pc_vault         TEXT NOT NULL,
	coin_decimals    SMALLINT NOT NULL,
	pc_decimals      SMALLINT NOT NULL,
	fee_numerator    BIGINT NOT NULL DEFAULT 25,
	fee_denominator  BIGINT NOT NULL DEFAULT 10000,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS pools_coin_mint_idx ON pools (coin_mint);
CREATE INDEX IF NOT EXISTS pools_pc_mint_idx ON pools (pc_mint);
`

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool is a registry row. Keys are stored base58 encoded.
type Pool struct {
	Address        string
	Program        string
	CoinMint       string
	PcMint         string
	CoinVault      string
	PcVault        string
	CoinDecimals   uint8
	PcDecimals     uint8
	FeeNumerator   uint64
	FeeDenominator uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertPoolParams contains the parameters for registering a pool.
type UpsertPoolParams struct {
	Address        string
	Program        string
	CoinMint       string
	PcMint         string
	CoinVault      string
	PcVault        string
	CoinDecimals   uint8
	PcDecimals     uint8
	FeeNumerator   uint64
	FeeDenominator uint64
}

const poolColumns = `address, program, coin_mint, pc_mint, coin_vault, pc_vault,
	coin_decimals, pc_decimals, fee_numerator, fee_denominator, created_at, updated_at`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpsertPool inserts a pool or refreshes an existing row with the same address.
func (s *Store) UpsertPool(ctx context.Context, params UpsertPoolParams) (*Pool, error) {
	if params.Program == "" {
		params.Program = "raydium_amm"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO pools (address, program, coin_mint, pc_mint, coin_vault, pc_vault,
			coin_decimals, pc_decimals, fee_numerator, fee_denominator)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			program = EXCLUDED.program,
			coin_mint = EXCLUDED.coin_mint,
			pc_mint = EXCLUDED.pc_mint,
			coin_vault = EXCLUDED.coin_vault,
			pc_vault = EXCLUDED.pc_vault,
			coin_decimals = EXCLUDED.coin_decimals,
			pc_decimals = EXCLUDED.pc_decimals,
			fee_numerator = EXCLUDED.fee_numerator,
			fee_denominator = EXCLUDED.fee_denominator,
			updated_at = NOW()
		RETURNING `+poolColumns,
		params.Address, params.Program, params.CoinMint, params.PcMint, params.CoinVault, params.PcVault,
		int16(params.CoinDecimals), int16(params.PcDecimals), int64(params.FeeNumerator), int64(params.FeeDenominator),
	)
	return scanPool(row)
}

// GetPool retrieves a pool by address.
func (s *Store) GetPool(ctx context.Context, address string) (*Pool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE address = $1`, address)
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, address)
	}
	return p, err
}

// ListPools returns every pool, or only pools trading one of mints when mints is non-empty.
func (s *Store) ListPools(ctx context.Context, mints []string) ([]*Pool, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(mints) == 0 {
		rows, err = s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY address`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools
			WHERE coin_mint = ANY($1) OR pc_mint = ANY($1) ORDER BY address`, mints)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var pools []*Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// DeletePool removes a pool from the registry.
func (s *Store) DeletePool(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pools WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("failed to delete pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, address)
	}
	return nil
}

// Helper functions to convert between database rows and domain types

func scanPool(row pgx.Row) (*Pool, error) {
	var (
		p                        Pool
		coinDecimals, pcDecimals int16
		feeNum, feeDen           int64
	)
	err := row.Scan(
		&p.Address, &p.Program, &p.CoinMint, &p.PcMint, &p.CoinVault, &p.PcVault,
		&coinDecimals, &pcDecimals, &feeNum, &feeDen, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CoinDecimals = uint8(coinDecimals)
	p.PcDecimals = uint8(pcDecimals)
	p.FeeNumerator = uint64(feeNum)
	p.FeeDenominator = uint64(feeDen)
	return &p, nil
}
