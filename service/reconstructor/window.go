package reconstructor

import "math"

// Verdict is how a SlotWindow classified a slot.
type Verdict int

const (
	// SlotAdmitted is within the lag of the highest slot, or the window is
	// not anchored yet.
	SlotAdmitted Verdict = iota
	// SlotAdvanced moved the highest slot forward. Callers drop state that
	// now lags.
	SlotAdvanced
	// SlotResynced moved the window to a corroborated slot. Callers drop
	// state that is not near the new highest slot.
	SlotResynced
	// SlotAhead is past the lag but inside the window. It is admitted
	// without moving the highest slot.
	SlotAhead
	// SlotLate is behind the lag.
	SlotLate
	// SlotOutOfWindow is too far from the highest slot to be trusted.
	SlotOutOfWindow
)

// Admitted reports whether the slot may be processed.
func (v Verdict) Admitted() bool {
	return v == SlotAdmitted || v == SlotAdvanced || v == SlotResynced || v == SlotAhead
}

// windowFactor sizes the window as a multiple of the slot lag.
const windowFactor = 64

// SlotWindow tracks the highest trusted slot. A slot more than lag away
// from it never moves it directly: it votes for a candidate, and quorum
// consecutive votes within lag of each other move the window there. One
// forged header cannot drag the window away from the live slot, and a real
// jump after an outage is followed once the new slots are corroborated.
//
// Until the first quorum the window is unanchored and admits every slot.
// It is not safe for concurrent use.
type SlotWindow struct {
	lag    uint64
	width  uint64
	quorum int

	highest  uint64
	anchored bool

	candidate uint64
	votes     int
}

// NewSlotWindow creates a window. A zero lag uses DefaultMaxSlotLag and a
// quorum below one is treated as one.
func NewSlotWindow(lag uint64, quorum int) *SlotWindow {
	if lag == 0 {
		lag = DefaultMaxSlotLag
	}
	if quorum < 1 {
		quorum = 1
	}
	width := lag * windowFactor
	if width/windowFactor != lag {
		width = math.MaxUint64
	}
	return &SlotWindow{lag: lag, width: width, quorum: quorum}
}

// Highest returns the highest trusted slot and whether the window is anchored.
func (w *SlotWindow) Highest() (uint64, bool) { return w.highest, w.anchored }

// Lag returns the configured slot lag.
func (w *SlotWindow) Lag() uint64 { return w.lag }

// Near reports whether slot is within the lag of the highest slot, on either
// side. Every slot is near an unanchored window.
func (w *SlotWindow) Near(slot uint64) bool {
	return !w.anchored || distance(slot, w.highest) <= w.lag
}

// Lags reports whether slot is more than the lag behind the highest slot.
func (w *SlotWindow) Lags(slot uint64) bool {
	return w.anchored && slot < w.highest && w.highest-slot > w.lag
}

// Accepts classifies slot like Admit without voting or moving the window.
func (w *SlotWindow) Accepts(slot uint64) bool {
	if w.Near(slot) {
		return true
	}
	return slot > w.highest && slot-w.highest <= w.width
}

// Admit classifies slot and moves the window when it advances or a
// candidate reaches quorum.
func (w *SlotWindow) Admit(slot uint64) Verdict {
	if !w.anchored {
		if w.vote(slot) {
			w.highest, w.anchored, w.votes = w.candidate, true, 0
			return SlotResynced
		}
		return SlotAdmitted
	}
	if w.Near(slot) {
		w.votes = 0
		if slot > w.highest {
			w.highest = slot
			return SlotAdvanced
		}
		return SlotAdmitted
	}
	if w.vote(slot) {
		w.highest, w.votes = w.candidate, 0
		return SlotResynced
	}
	switch {
	case slot > w.highest && slot-w.highest <= w.width:
		return SlotAhead
	case slot < w.highest && w.highest-slot <= w.width:
		return SlotLate
	default:
		return SlotOutOfWindow
	}
}

// vote counts slot toward the candidate and reports whether it reached quorum.
func (w *SlotWindow) vote(slot uint64) bool {
	if w.votes > 0 && distance(slot, w.candidate) <= w.lag {
		w.votes++
		if slot > w.candidate {
			w.candidate = slot
		}
	} else {
		w.candidate, w.votes = slot, 1
	}
	return w.votes >= w.quorum
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
