package entry

import (
	"log/slog"

	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/reconstructor"
)

// setQuorum is how many agreeing sets move the slot window.
const setQuorum = 4

// Batch is the entry bytes between two DATA_COMPLETE boundaries of a slot.
type Batch struct {
	Slot uint64
	// StartIndex is the data shred index the batch begins at. It orders
	// batches within a slot.
	StartIndex uint32
	Data       []byte
	LastInSlot bool
}

type slotState struct {
	next       uint32
	pending    map[uint32]*reconstructor.CompletedSet
	buf        []byte
	batchStart uint32

	// lost holds sets that will never arrive, keyed by fec set index, with
	// the index of the following set when it is known.
	lost map[uint32]uint32
	// skipping discards data up to the next DATA_COMPLETE after a lost set.
	skipping bool
}

// Assembler joins completed FEC sets of each slot in index order and cuts the
// joined stream into batches at DATA_COMPLETE shreds. When a set of the slot
// is lost, the stream resumes at the first batch boundary after it. A slot
// that stalls is dropped once it falls maxSlotLag slots behind the highest
// trusted slot. It is not safe for concurrent use.
type Assembler struct {
	window *reconstructor.SlotWindow
	slots  map[uint64]*slotState

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. A zero maxSlotLag uses
// reconstructor.DefaultMaxSlotLag.
func NewAssembler(maxSlotLag uint64, m *metrics.Metrics, logger *slog.Logger) *Assembler {
	return &Assembler{
		window:  reconstructor.NewSlotWindow(maxSlotLag, setQuorum),
		slots:   make(map[uint64]*slotState),
		metrics: m,
		logger:  logger.With("component", "assembler"),
	}
}

// Add accepts a completed set and returns every batch it completes, in order.
func (a *Assembler) Add(cs *reconstructor.CompletedSet) []Batch {
	slot := cs.Key.Slot
	if !a.admit(slot) {
		return nil
	}

	st := a.slot(slot)
	if cs.Key.FecSetIndex < st.next {
		return nil
	}
	st.pending[cs.Key.FecSetIndex] = cs
	return a.drain(slot, st)
}

// Lose records a set that ended without reconstruction and returns any
// batches that can now be cut past it.
func (a *Assembler) Lose(ls reconstructor.LostSet) []Batch {
	slot := ls.Key.Slot
	// a notice is not evidence of where the live slot is
	if !a.window.Accepts(slot) || a.window.Lags(slot) {
		return nil
	}

	st := a.slot(slot)
	if ls.Key.FecSetIndex < st.next {
		return nil
	}
	var next uint32
	if ls.NumData > 0 {
		next = ls.Key.FecSetIndex + uint32(ls.NumData)
	}
	st.lost[ls.Key.FecSetIndex] = next
	return a.drain(slot, st)
}

func (a *Assembler) slot(slot uint64) *slotState {
	st, ok := a.slots[slot]
	if !ok {
		st = &slotState{
			pending: make(map[uint32]*reconstructor.CompletedSet),
			lost:    make(map[uint32]uint32),
		}
		a.slots[slot] = st
	}
	return st
}

func (a *Assembler) drain(slot uint64, st *slotState) []Batch {
	var batches []Batch
	for {
		next, ok := st.pending[st.next]
		if !ok {
			if !a.skipLost(slot, st) {
				break
			}
			continue
		}
		delete(st.pending, st.next)
		for _, s := range next.Shreds {
			if st.skipping {
				if s.DataComplete() {
					st.skipping = false
					st.batchStart = s.Index + 1
				}
				continue
			}
			data, _ := s.Data()
			st.buf = append(st.buf, data...)
			if !s.DataComplete() {
				continue
			}
			batches = append(batches, Batch{
				Slot:       slot,
				StartIndex: st.batchStart,
				Data:       st.buf,
				LastInSlot: s.LastInSlot(),
			})
			st.buf = nil
			st.batchStart = s.Index + 1
		}
		st.next = next.NextFecSetIndex()
		if next.LastInSlot() {
			delete(a.slots, slot)
			break
		}
	}
	return batches
}

// skipLost moves past a lost set at st.next. The partial batch is dropped
// and data is discarded until the next DATA_COMPLETE. Without the lost set's
// size the stream resumes at the lowest pending set after it.
func (a *Assembler) skipLost(slot uint64, st *slotState) bool {
	following, ok := st.lost[st.next]
	if !ok {
		return false
	}
	if following == 0 {
		found := false
		for index := range st.pending {
			if index > st.next && (!found || index < following) {
				following, found = index, true
			}
		}
		if !found {
			return false
		}
	}

	a.metrics.RecordBatchAbandoned()
	a.logger.Debug("skipping lost fec set", "slot", slot, "fec_set", st.next, "resume_at", following, "partial_bytes", len(st.buf))
	delete(st.lost, st.next)
	for index := range st.lost {
		if index < following {
			delete(st.lost, index)
		}
	}
	st.buf = nil
	st.skipping = true
	st.next = following
	return true
}

// admit runs slot through the window and drops the slots it leaves behind.
func (a *Assembler) admit(slot uint64) bool {
	switch v := a.window.Admit(slot); v {
	case reconstructor.SlotAdvanced:
		a.abandon(a.window.Lags)
	case reconstructor.SlotResynced:
		highest, _ := a.window.Highest()
		a.logger.Debug("slot window resynced", "highest", highest, "slots", len(a.slots))
		a.abandon(func(s uint64) bool { return !a.window.Near(s) })
	case reconstructor.SlotLate:
		a.metrics.RecordBatchAbandoned()
		return false
	case reconstructor.SlotOutOfWindow:
		a.metrics.RecordMalformedPacket("slot_out_of_window")
		return false
	}
	return true
}

func (a *Assembler) abandon(drop func(slot uint64) bool) {
	for slot, st := range a.slots {
		if !drop(slot) {
			continue
		}
		if len(st.buf) > 0 || len(st.pending) > 0 {
			a.metrics.RecordBatchAbandoned()
			a.logger.Debug("abandoning incomplete slot", "slot", slot, "next_fec_set", st.next, "pending_sets", len(st.pending))
		}
		delete(a.slots, slot)
	}
}

// PendingSlots reports how many slots hold partial state.
func (a *Assembler) PendingSlots() int { return len(a.slots) }
