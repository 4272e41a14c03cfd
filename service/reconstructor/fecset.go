package reconstructor

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/shred"
)

// State is the lifecycle state of a FEC set.
type State uint8

const (
	StateOpen State = iota
	StateReconstructed
	StateFailed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReconstructed:
		return "reconstructed"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// FecSet accumulates the shreds of one FEC set until it can be reconstructed.
// A FecSet lives in a core arena and is only touched by that core's goroutine.
type FecSet struct {
	Key       shred.Key
	State     State
	FirstSeen time.Time

	// Erasure counts, known once a coding shred arrives.
	NumData     int
	NumCoding   int
	CountsKnown bool

	// Data variant and leader signature shared by the set.
	Variant   shred.Variant
	Signature solana.Signature

	Data   map[uint32]*shred.Shred
	Coding map[uint32]*shred.Shred

	// completeAt is the erasure position of the DATA_COMPLETE data shred, or -1.
	completeAt int
}

func (f *FecSet) reset(key shred.Key, now time.Time) {
	f.Key = key
	f.State = StateOpen
	f.FirstSeen = now
	f.NumData, f.NumCoding, f.CountsKnown = 0, 0, false
	f.Variant = 0
	f.Signature = solana.Signature{}
	if f.Data == nil {
		f.Data = make(map[uint32]*shred.Shred, shred.MaxShardsPerSet/2)
		f.Coding = make(map[uint32]*shred.Shred, shred.MaxShardsPerSet/2)
	} else {
		clear(f.Data)
		clear(f.Coding)
	}
	f.completeAt = -1
}

// release drops shred references so the arena slot does not pin payloads.
func (f *FecSet) release() {
	clear(f.Data)
	clear(f.Coding)
}

func (f *FecSet) holds(s *shred.Shred) bool {
	if s.IsData() {
		_, ok := f.Data[s.Index]
		return ok
	}
	_, ok := f.Coding[s.Index]
	return ok
}

// ready reports whether enough shreds are held to attempt reconstruction.
func (f *FecSet) ready() bool {
	if f.CountsKnown {
		return len(f.Data)+len(f.Coding) >= f.NumData
	}
	if f.completeAt < 0 || len(f.Data) != f.completeAt+1 {
		return false
	}
	for pos := 0; pos <= f.completeAt; pos++ {
		if _, ok := f.Data[f.Key.FecSetIndex+uint32(pos)]; !ok {
			return false
		}
	}
	return true
}

// dataCount is the number of data shreds the set carries once ready.
func (f *FecSet) dataCount() int {
	if f.CountsKnown {
		return f.NumData
	}
	return f.completeAt + 1
}
