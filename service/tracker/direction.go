package tracker

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brojonat/shredarb/service/amm"
)

var ErrAmbiguousDirection = errors.New("ambiguous swap direction")

// side is what a user token account holds relative to a pool.
type side uint8

const (
	sideUnknown side = iota
	sideCoin
	sidePc
	sideForeign
)

func (s side) String() string {
	switch s {
	case sideCoin:
		return "coin"
	case sidePc:
		return "pc"
	case sideForeign:
		return "foreign"
	}
	return "unknown"
}

type ataKey struct {
	owner, mint, program solana.PublicKey
}

// resolver classifies the user accounts of a swap. Derived associated token
// addresses are cached since the same traders and mints recur.
type resolver struct {
	atas *lru.Cache[ataKey, solana.PublicKey]
}

func newResolver(cacheSize int) (*resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	atas, err := lru.New[ataKey, solana.PublicKey](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ata cache: %w", err)
	}
	return &resolver{atas: atas}, nil
}

func (r *resolver) ata(owner, mint, program solana.PublicKey) (solana.PublicKey, bool) {
	k := ataKey{owner: owner, mint: mint, program: program}
	if addr, ok := r.atas.Get(k); ok {
		return addr, true
	}
	addr, err := amm.AssociatedTokenAddress(owner, mint, program)
	if err != nil {
		return solana.PublicKey{}, false
	}
	r.atas.Add(k, addr)
	return addr, true
}

// classify says which side of pool account holds, first from the token
// account hints of the transaction, then by comparing it with the owner's
// associated token accounts for both pool mints.
func (r *resolver) classify(pool Pool, account, owner solana.PublicKey, hints amm.Hints) side {
	if h, ok := hints[account]; ok {
		switch {
		case h.Mint.Equals(pool.CoinMint):
			return sideCoin
		case h.Mint.Equals(pool.PcMint):
			return sidePc
		default:
			return sideForeign
		}
	}
	for _, program := range []solana.PublicKey{amm.TokenProgramID, amm.Token2022ProgramID} {
		if addr, ok := r.ata(owner, pool.CoinMint, program); ok && addr.Equals(account) {
			return sideCoin
		}
		if addr, ok := r.ata(owner, pool.PcMint, program); ok && addr.Equals(account) {
			return sidePc
		}
	}
	return sideUnknown
}

// direction resolves which way a swap trades from the user's source and
// destination accounts. The instruction variant says nothing about the
// direction: both SwapBaseIn and SwapBaseOut trade either way. When only one
// side resolves the other is inferred; a foreign mint, both accounts on the
// same side, or nothing resolved is ambiguous.
func (r *resolver) direction(pool Pool, accounts amm.SwapAccounts, hints amm.Hints) (amm.Direction, error) {
	src := r.classify(pool, accounts.Source, accounts.Owner, hints)
	dst := r.classify(pool, accounts.Destination, accounts.Owner, hints)

	switch {
	case src == sideCoin && (dst == sidePc || dst == sideUnknown):
		return amm.CoinToPc, nil
	case src == sidePc && (dst == sideCoin || dst == sideUnknown):
		return amm.PcToCoin, nil
	case src == sideUnknown && dst == sidePc:
		return amm.CoinToPc, nil
	case src == sideUnknown && dst == sideCoin:
		return amm.PcToCoin, nil
	}
	return 0, fmt.Errorf("%w: source %s, destination %s", ErrAmbiguousDirection, src, dst)
}
