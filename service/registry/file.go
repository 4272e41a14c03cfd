// Package registry loads the pools the tracker follows: from the Raydium
// liquidity JSON, from Postgres, and optionally hydrates their reserves from
// vault balances over RPC.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/tracker"
)

// ErrInvalidPool is returned for a registry record that cannot describe a pool.
var ErrInvalidPool = errors.New("invalid pool record")

// poolSelect flattens both pool lists of the liquidity file and keeps pools
// trading one of $mints. An empty $mints keeps everything.
const poolSelect = `
[(.official // [])[], (.unOfficial // [])[]][]
| select(($mints | length) == 0
    or (.baseMint as $b | .quoteMint as $q | $mints | any(. == $b or . == $q)))`

const poolProject = `{id, baseMint, quoteMint, baseVault, quoteVault, baseDecimals, quoteDecimals}`

// FileSource reads pools from a Raydium liquidity JSON file.
type FileSource struct {
	Path  string
	Mints []solana.PublicKey
	// Filter is an optional jq expression each pool record must satisfy,
	// for example `.quoteMint == "So11111111111111111111111111111111111111112"`.
	Filter string
}

// Load implements Source.
func (f FileSource) Load(ctx context.Context) ([]tracker.Pool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool registry %s: %w", f.Path, err)
	}
	return ParseLiquidityJSON(ctx, data, f.Mints, f.Filter)
}

// ParseLiquidityJSON extracts pools from the liquidity file contents.
func ParseLiquidityJSON(ctx context.Context, data []byte, mints []solana.PublicKey, filter string) ([]tracker.Pool, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode pool registry: %w", err)
	}

	query := poolSelect
	if filter != "" {
		query += " | select(" + filter + ")"
	}
	query += " | " + poolProject
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$mints"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	wanted := make([]any, len(mints))
	for i, m := range mints {
		wanted[i] = m.String()
	}

	var pools []tracker.Pool
	iter := code.RunWithContext(ctx, doc, wanted)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq evaluation failed: %w", err)
		}
		record, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %T", ErrInvalidPool, v)
		}
		p, err := poolFromRecord(record)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func poolFromRecord(r map[string]any) (tracker.Pool, error) {
	var (
		p    tracker.Pool
		errs []error
	)
	key := func(field string) solana.PublicKey {
		s, _ := r[field].(string)
		k, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %v", field, s, err))
		}
		return k
	}
	decimals := func(field string) uint8 {
		var f float64
		switch n := r[field].(type) {
		case float64:
			f = n
		case int:
			f = float64(n)
		default:
			f = -1
		}
		if f < 0 || f > 255 || f != float64(uint8(f)) {
			errs = append(errs, fmt.Errorf("%s: %v", field, r[field]))
			return 0
		}
		return uint8(f)
	}

	p.Address = key("id")
	p.CoinMint = key("baseMint")
	p.PcMint = key("quoteMint")
	p.CoinVault = key("baseVault")
	p.PcVault = key("quoteVault")
	p.CoinDecimals = decimals("baseDecimals")
	p.PcDecimals = decimals("quoteDecimals")
	p.Fee = amm.DefaultFee

	if len(errs) > 0 {
		return tracker.Pool{}, fmt.Errorf("%w %v: %v", ErrInvalidPool, r["id"], errors.Join(errs...))
	}
	return p, nil
}
