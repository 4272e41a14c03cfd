package reconstructor

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brojonat/shredarb/service/fec"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/shred"
)

// CompletedSet is the output of a successful reconstruction. Ownership of
// the shreds passes to the receiver.
type CompletedSet struct {
	Key shred.Key
	// Shreds holds every data shred of the set ordered by index.
	Shreds []*shred.Shred
	// Recovered counts data shreds rebuilt from parity.
	Recovered int
}

// LostSet reports a set that ended without a reconstruction.
type LostSet struct {
	Key   shred.Key
	State State
	// NumData is the set's data shred count, zero if no coding shred arrived.
	NumData int
}

func (c *CompletedSet) NumData() int { return len(c.Shreds) }

// NextFecSetIndex is the fec set index of the set that follows this one.
func (c *CompletedSet) NextFecSetIndex() uint32 {
	return c.Key.FecSetIndex + uint32(len(c.Shreds))
}

// DataComplete reports whether the final data shred ends an entry batch.
func (c *CompletedSet) DataComplete() bool {
	return len(c.Shreds) > 0 && c.Shreds[len(c.Shreds)-1].DataComplete()
}

// LastInSlot reports whether the final data shred ends the slot.
func (c *CompletedSet) LastInSlot() bool {
	return len(c.Shreds) > 0 && c.Shreds[len(c.Shreds)-1].LastInSlot()
}

// Data concatenates the entry bytes of every data shred.
func (c *CompletedSet) Data() []byte {
	var buf bytes.Buffer
	for _, s := range c.Shreds {
		data, _ := s.Data()
		buf.Write(data)
	}
	return buf.Bytes()
}

const (
	// DefaultMaxSlotLag is used when no positive slot lag is configured.
	DefaultMaxSlotLag = 32
	// shredQuorum is how many agreeing shreds move the slot window.
	shredQuorum = 16
)

// core owns a partition of FEC sets. It is not safe for concurrent use; each
// core is driven by exactly one goroutine.
type core struct {
	coder  *fec.Coder
	maxAge time.Duration
	window *SlotWindow

	arena      []FecSet
	free       []int
	index      map[shred.Key]int
	tombstones *lru.Cache[shred.Key, State]

	// floor is the highest slot of any evicted tombstone. Unknown keys at or
	// below it may already have been attempted, so they are refused.
	floor    uint64
	hasFloor bool

	// lost collects sets retired without reconstruction until takeLost.
	lost []LostSet

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newCore(coder *fec.Coder, maxAge time.Duration, maxSlotLag uint64, tombstones int, m *metrics.Metrics, logger *slog.Logger) (*core, error) {
	c := &core{
		coder:   coder,
		maxAge:  maxAge,
		window:  NewSlotWindow(maxSlotLag, shredQuorum),
		index:   make(map[shred.Key]int),
		metrics: m,
		logger:  logger,
	}
	cache, err := lru.NewWithEvict[shred.Key, State](tombstones, c.onTombstoneEvicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create tombstone cache: %w", err)
	}
	c.tombstones = cache
	return c, nil
}

func (c *core) onTombstoneEvicted(key shred.Key, _ State) {
	if !c.hasFloor || key.Slot > c.floor {
		c.floor, c.hasFloor = key.Slot, true
	}
}

// insert adds a shred and returns the completed set if this shred made the
// set reconstructable.
func (c *core) insert(s *shred.Shred, now time.Time) *CompletedSet {
	key := s.Key()
	if _, done := c.tombstones.Get(key); done {
		c.metrics.RecordLateShred()
		return nil
	}
	if !c.admit(s.Slot) {
		return nil
	}
	if _, open := c.index[key]; !open && c.hasFloor && key.Slot <= c.floor {
		c.metrics.RecordLateShred()
		return nil
	}

	idx := c.open(key, now)
	set := &c.arena[idx]
	if !c.accept(set, s) {
		return nil
	}
	if !set.ready() {
		return nil
	}
	return c.finalize(idx)
}

// admit runs slot through the window and drops the sets it leaves behind.
func (c *core) admit(slot uint64) bool {
	v := c.window.Admit(slot)
	switch v {
	case SlotAdvanced:
		c.expireLagging()
	case SlotResynced:
		c.resync()
	case SlotLate:
		c.metrics.RecordLateShred()
	case SlotOutOfWindow:
		c.metrics.RecordMalformedPacket("slot_out_of_window")
	}
	return v.Admitted()
}

// resync drops every set that is not near the new highest slot.
func (c *core) resync() {
	highest, _ := c.window.Highest()
	dropped := 0
	for key, idx := range c.index {
		if !c.window.Near(key.Slot) {
			c.expire(idx, true)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Warn("slot window resynced", "highest", highest, "dropped", dropped, "open", len(c.index))
	}
	// a floor left by tombstones far above the new window would refuse it all
	if c.hasFloor && c.floor > highest && c.floor-highest > c.window.Lag() {
		c.floor, c.hasFloor = 0, false
	}
}

func (c *core) open(key shred.Key, now time.Time) int {
	if idx, ok := c.index[key]; ok {
		return idx
	}
	var idx int
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		c.arena = append(c.arena, FecSet{})
		idx = len(c.arena) - 1
	}
	c.arena[idx].reset(key, now)
	c.index[key] = idx
	c.metrics.RecordFecSetOpened()
	return idx
}

func (c *core) accept(set *FecSet, s *shred.Shred) bool {
	variant := s.Variant.DataVariant()
	if set.Variant == 0 {
		set.Variant = variant
		set.Signature = s.Signature
	} else if set.Variant != variant {
		c.metrics.RecordMalformedPacket("variant_mismatch")
		return false
	}
	if set.holds(s) {
		c.metrics.RecordDuplicateShred()
		return false
	}

	if s.IsData() {
		pos := s.ErasurePosition()
		if set.CountsKnown && pos >= set.NumData {
			c.metrics.RecordMalformedPacket("erasure_position")
			return false
		}
		set.Data[s.Index] = s
		// Legacy sets may end a batch mid-set; only merkle sets and the
		// slot's last shred close the set on DATA_COMPLETE.
		closesSet := s.Variant.IsMerkle() || s.LastInSlot()
		if s.DataComplete() && closesSet && (set.completeAt < 0 || pos < set.completeAt) {
			set.completeAt = pos
		}
		return true
	}

	if !set.CountsKnown {
		set.NumData, set.NumCoding, set.CountsKnown = int(s.NumData), int(s.NumCoding), true
		for index, d := range set.Data {
			if d.ErasurePosition() >= set.NumData {
				delete(set.Data, index)
				c.metrics.RecordMalformedPacket("erasure_position")
			}
		}
		if set.completeAt >= set.NumData {
			set.completeAt = -1
		}
	} else if int(s.NumData) != set.NumData || int(s.NumCoding) != set.NumCoding {
		c.metrics.RecordMalformedPacket("erasure_config_mismatch")
		return false
	}
	set.Coding[s.Index] = s
	return true
}

// finalize makes the single reconstruction attempt for a set and retires it.
func (c *core) finalize(idx int) *CompletedSet {
	set := &c.arena[idx]
	start := time.Now()
	completed, err := c.reconstruct(set)
	if err != nil {
		c.logger.Debug("fec set reconstruction failed", "key", set.Key.String(), "error", err)
		c.metrics.RecordFecSetFailure()
		c.lose(set, StateFailed)
		c.retire(idx, StateFailed)
		return nil
	}
	c.metrics.RecordFecSetSuccess(completed.NumData(), completed.Recovered > 0, time.Since(start).Seconds())
	c.retire(idx, StateReconstructed)
	return completed
}

func (c *core) reconstruct(set *FecSet) (*CompletedSet, error) {
	n := set.dataCount()
	shreds := make([]*shred.Shred, n)
	for _, d := range set.Data {
		if pos := d.ErasurePosition(); pos < n {
			shreds[pos] = d
		}
	}
	missing := 0
	for _, s := range shreds {
		if s == nil {
			missing++
		}
	}
	completed := &CompletedSet{Key: set.Key, Shreds: shreds, Recovered: missing}
	if missing == 0 {
		return completed, nil
	}

	shards := make([][]byte, set.NumData+set.NumCoding)
	for pos, s := range shreds {
		if s == nil {
			continue
		}
		shard, err := s.ErasureShard()
		if err != nil {
			return nil, err
		}
		shards[pos] = shard
	}
	for _, s := range set.Coding {
		shard, err := s.ErasureShard()
		if err != nil {
			// a truncated coding shred is treated as an erasure
			continue
		}
		shards[s.ErasurePosition()] = shard
	}

	if err := c.coder.Recover(shards, set.NumData); err != nil {
		return nil, err
	}

	for pos, s := range shreds {
		if s != nil {
			continue
		}
		rebuilt, err := shred.FromErasureShard(set.Variant, set.Signature, shards[pos])
		if err != nil {
			return nil, fmt.Errorf("recovered shard %d: %w", pos, err)
		}
		if rebuilt.Slot != set.Key.Slot || rebuilt.FecSetIndex != set.Key.FecSetIndex ||
			rebuilt.Index != set.Key.FecSetIndex+uint32(pos) {
			return nil, fmt.Errorf("recovered shard %d has identity %d/%d/%d", pos, rebuilt.Slot, rebuilt.FecSetIndex, rebuilt.Index)
		}
		shreds[pos] = rebuilt
	}
	return completed, nil
}

func (c *core) retire(idx int, state State) {
	set := &c.arena[idx]
	set.State = state
	c.tombstones.Add(set.Key, state)
	delete(c.index, set.Key)
	set.release()
	c.free = append(c.free, idx)
}

// expire retires an open set without reconstructing it.
func (c *core) expire(idx int, force bool) {
	set := &c.arena[idx]
	state := StateExpired
	if set.CountsKnown && !force {
		state = StateFailed
	}
	c.logger.Debug("fec set evicted", "key", set.Key.String(), "state", state.String(),
		"data", len(set.Data), "coding", len(set.Coding), "num_data", set.NumData)
	c.metrics.RecordFecSetFailure()
	c.lose(set, state)
	c.retire(idx, state)
}

func (c *core) lose(set *FecSet, state State) {
	ls := LostSet{Key: set.Key, State: state}
	if set.CountsKnown {
		ls.NumData = set.NumData
	}
	c.lost = append(c.lost, ls)
}

// takeLost returns the sets lost since the last call.
func (c *core) takeLost() []LostSet {
	lost := c.lost
	c.lost = nil
	return lost
}

// sweep evicts sets older than maxAge and returns how many were evicted.
func (c *core) sweep(now time.Time) int {
	evicted := 0
	for _, idx := range c.index {
		if now.Sub(c.arena[idx].FirstSeen) >= c.maxAge {
			c.expire(idx, false)
			evicted++
		}
	}
	return evicted
}

func (c *core) expireLagging() {
	for key, idx := range c.index {
		if c.window.Lags(key.Slot) {
			c.expire(idx, true)
		}
	}
}

// abandon releases every open set without a verdict. Nothing is tombstoned,
// and the open-set gauge is decremented.
func (c *core) abandon() int {
	n := 0
	for key, idx := range c.index {
		delete(c.index, key)
		c.arena[idx].release()
		c.free = append(c.free, idx)
		c.metrics.RecordFecSetAbandoned()
		n++
	}
	return n
}

// state returns the state of key: Open if live, the final state if tombstoned.
func (c *core) state(key shred.Key) (State, bool) {
	if _, ok := c.index[key]; ok {
		return StateOpen, true
	}
	return c.tombstones.Peek(key)
}

func (c *core) openSets() int { return len(c.index) }
