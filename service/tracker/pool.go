// Package tracker applies AMM instructions from decoded transactions to an
// in-memory registry of pool states.
package tracker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/amm"
)

// OrderingKey orders pool updates: slot, then position of the transaction
// in the slot, then instruction index within the transaction.
type OrderingKey struct {
	Slot        uint64 `json:"slot"`
	TxIndex     uint64 `json:"tx_index"`
	Instruction uint32 `json:"instruction"`
}

// TxIndex packs the start index of a batch and the ordinal of a transaction
// within it into a slot-wide transaction position.
func TxIndex(batchStart uint32, ordinal int) uint64 {
	return uint64(batchStart)<<32 | uint64(uint32(ordinal))
}

// Compare returns -1, 0 or 1.
func (k OrderingKey) Compare(o OrderingKey) int {
	switch {
	case k.Slot != o.Slot:
		return cmp(k.Slot, o.Slot)
	case k.TxIndex != o.TxIndex:
		return cmp(k.TxIndex, o.TxIndex)
	default:
		return cmp(uint64(k.Instruction), uint64(o.Instruction))
	}
}

func (k OrderingKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Slot, k.TxIndex, k.Instruction)
}

func cmp(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Pool is the static description of a pool plus its starting reserves, as
// loaded from a registry.
type Pool struct {
	Address      solana.PublicKey `json:"address"`
	CoinMint     solana.PublicKey `json:"coin_mint"`
	PcMint       solana.PublicKey `json:"pc_mint"`
	CoinVault    solana.PublicKey `json:"coin_vault"`
	PcVault      solana.PublicKey `json:"pc_vault"`
	CoinDecimals uint8            `json:"coin_decimals"`
	PcDecimals   uint8            `json:"pc_decimals"`
	Fee          amm.Fee          `json:"fee"`
	Reserves     amm.Reserves     `json:"reserves"`
}

// Other returns the mint on the other side of the pool from mint.
func (p Pool) Other(mint solana.PublicKey) (solana.PublicKey, bool) {
	switch {
	case p.CoinMint.Equals(mint):
		return p.PcMint, true
	case p.PcMint.Equals(mint):
		return p.CoinMint, true
	}
	return solana.PublicKey{}, false
}

// DirectionFrom is the swap direction that sells mint into the pool.
func (p Pool) DirectionFrom(mint solana.PublicKey) (amm.Direction, bool) {
	switch {
	case p.CoinMint.Equals(mint):
		return amm.CoinToPc, true
	case p.PcMint.Equals(mint):
		return amm.PcToCoin, true
	}
	return 0, false
}

// Snapshot is a consistent copy of a pool state.
type Snapshot struct {
	Pool
	LastApplied OrderingKey `json:"last_applied"`
	Updates     uint64      `json:"updates"`
	Price       float64     `json:"price"`
}

// PoolState is a pool's mutable reserves. Reads and updates go through its
// mutex, and an update is applied only when its ordering key is strictly
// greater than the last applied one.
type PoolState struct {
	mu          sync.Mutex
	pool        Pool
	lastApplied OrderingKey
	updates     uint64
}

// Update computes new reserves from the current ones.
type Update func(amm.Reserves) (amm.Reserves, error)

// Apply runs fn under the pool lock when key is newer than the last applied
// update. It reports whether the update was applied; a stale key is not an
// error. When fn fails the state is left unchanged.
func (s *PoolState) Apply(key OrderingKey, fn Update) (before, after Snapshot, applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before = s.snapshotLocked()
	if s.updates > 0 && key.Compare(s.lastApplied) <= 0 {
		return before, before, false, nil
	}
	next, err := fn(s.pool.Reserves)
	if err != nil {
		return before, before, false, err
	}
	s.pool.Reserves = next
	s.lastApplied = key
	s.updates++
	return before, s.snapshotLocked(), true, nil
}

// Snapshot returns a copy of the current state.
func (s *PoolState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Keys returns the pool description with zeroed reserves.
func (s *PoolState) Keys() Pool {
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()
	p.Reserves = amm.Reserves{}
	return p
}

func (s *PoolState) snapshotLocked() Snapshot {
	return Snapshot{
		Pool:        s.pool,
		LastApplied: s.lastApplied,
		Updates:     s.updates,
		Price:       amm.Price(s.pool.Reserves, s.pool.CoinDecimals, s.pool.PcDecimals),
	}
}

// Registry holds every known pool. The registry map is written only while
// loading; pool states lock individually.
type Registry struct {
	mu     sync.RWMutex
	pools  map[solana.PublicKey]*PoolState
	byMint map[solana.PublicKey][]*PoolState
}

func NewRegistry(pools ...Pool) *Registry {
	r := &Registry{
		pools:  make(map[solana.PublicKey]*PoolState),
		byMint: make(map[solana.PublicKey][]*PoolState),
	}
	for _, p := range pools {
		r.Add(p)
	}
	return r
}

// Add registers p. A pool already registered keeps its state and Add
// returns false.
func (r *Registry) Add(p Pool) bool {
	if p.Fee == (amm.Fee{}) {
		p.Fee = amm.DefaultFee
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[p.Address]; ok {
		return false
	}
	s := &PoolState{pool: p}
	r.pools[p.Address] = s
	r.byMint[p.CoinMint] = append(r.byMint[p.CoinMint], s)
	r.byMint[p.PcMint] = append(r.byMint[p.PcMint], s)
	return true
}

func (r *Registry) Get(address solana.PublicKey) (*PoolState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.pools[address]
	return s, ok
}

// ByMint returns the pools that trade mint.
func (r *Registry) ByMint(mint solana.PublicKey) []*PoolState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*PoolState(nil), r.byMint[mint]...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Snapshots returns every pool ordered by address.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	states := make([]*PoolState, 0, len(r.pools))
	for _, s := range r.pools {
		states = append(states, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, len(states))
	for i, s := range states {
		out[i] = s.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}
