package pipeline

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/entry"
	"github.com/brojonat/shredarb/service/fec"
	"github.com/brojonat/shredarb/service/shred"
	"github.com/brojonat/shredarb/service/tracker"
)

// FixtureConfig describes a synthetic shred stream of swaps against one pool.
type FixtureConfig struct {
	Pool   tracker.Pool
	Trader solana.PublicKey
	// FirstSlot is the slot of the first batch; each slot holds one batch.
	FirstSlot    uint64
	Slots        int
	SwapsPerSlot int
	// AmountIn is the input of every swap, alternating coin and pc.
	AmountIn   uint64
	Variant    shred.Variant
	DataPerSet int
	// CodingPerSet defaults to DataPerSet.
	CodingPerSet int
	// DropPerSet removes this many data shreds from the front of every set,
	// so the reconstructor has to recover them from parity.
	DropPerSet int
}

// BuildSwapPackets produces the datagrams a leader would send for cfg, in
// index order with coding shreds after the data shreds of each set.
func BuildSwapPackets(cfg FixtureConfig, coder *fec.Coder) ([][]byte, error) {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	if cfg.AmountIn == 0 {
		cfg.AmountIn = 1_000_000
	}
	shredder, err := fec.NewShredder(coder, fec.ShredderConfig{
		Variant:      cfg.Variant,
		DataPerSet:   cfg.DataPerSet,
		CodingPerSet: cfg.CodingPerSet,
	})
	if err != nil {
		return nil, err
	}

	coinATA, err := amm.AssociatedTokenAddress(cfg.Trader, cfg.Pool.CoinMint, amm.TokenProgramID)
	if err != nil {
		return nil, err
	}
	pcATA, err := amm.AssociatedTokenAddress(cfg.Trader, cfg.Pool.PcMint, amm.TokenProgramID)
	if err != nil {
		return nil, err
	}

	var packets [][]byte
	for i := 0; i < cfg.Slots; i++ {
		slot := cfg.FirstSlot + uint64(i)
		entries := []entry.Entry{{NumHashes: 12_500, Hash: fixtureHash(slot, 0)}}
		for j := 0; j < cfg.SwapsPerSlot; j++ {
			source, dest := coinATA, pcATA
			if j%2 == 1 {
				source, dest = pcATA, coinATA
			}
			ix := amm.NewSwapInstruction(&amm.SwapBaseIn{AmountIn: cfg.AmountIn}, amm.SwapAccounts{
				Amm:         cfg.Pool.Address,
				CoinVault:   cfg.Pool.CoinVault,
				PcVault:     cfg.Pool.PcVault,
				Source:      source,
				Destination: dest,
				Owner:       cfg.Trader,
			}, true)
			tx, err := solana.NewTransaction([]solana.Instruction{ix}, fixtureHash(slot, j+1), solana.TransactionPayer(cfg.Trader))
			if err != nil {
				return nil, fmt.Errorf("failed to build swap: %w", err)
			}
			// Signatures are never verified downstream.
			tx.Signatures = []solana.Signature{fixtureSignature(slot, j)}
			entries = append(entries, entry.Entry{NumHashes: 1, Hash: fixtureHash(slot, j+1), Transactions: []*solana.Transaction{tx}})
		}

		batch, err := entry.Encode(entries)
		if err != nil {
			return nil, err
		}
		sets, _, err := shredder.Shred(slot, 1, 0, batch, true)
		if err != nil {
			return nil, err
		}
		for _, set := range sets {
			drop := min(cfg.DropPerSet, len(set.Coding), len(set.Data))
			packets = append(packets, set.Data[drop:]...)
			packets = append(packets, set.Coding...)
		}
	}
	return packets, nil
}

func fixtureHash(slot uint64, n int) solana.Hash {
	var h solana.Hash
	binary.LittleEndian.PutUint64(h[0:8], slot)
	binary.LittleEndian.PutUint64(h[8:16], uint64(n))
	return h
}

func fixtureSignature(slot uint64, n int) solana.Signature {
	var s solana.Signature
	binary.LittleEndian.PutUint64(s[0:8], slot)
	binary.LittleEndian.PutUint64(s[8:16], uint64(n))
	s[63] = 0xA5
	return s
}
