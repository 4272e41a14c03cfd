package fec

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/shred"
)

// DefaultDataShredsPerSet matches the 32:32 sets leaders emit.
const DefaultDataShredsPerSet = 32

// ShredderConfig controls the geometry of produced sets.
type ShredderConfig struct {
	// Variant is the data variant; coding shreds use its pair.
	Variant shred.Variant
	// DataPerSet caps data shreds per FEC set.
	DataPerSet int
	// CodingPerSet is the number of coding shreds per set, 0 means one per data shred.
	CodingPerSet int
	Version      uint16
}

// Set is one FEC set worth of serialized shreds.
type Set struct {
	Key    shred.Key
	Data   [][]byte
	Coding [][]byte
}

// Shredder splits entry batches into FEC sets.
type Shredder struct {
	coder *Coder
	cfg   ShredderConfig
}

// NewShredder creates a Shredder. A zero Variant defaults to legacy shreds.
func NewShredder(coder *Coder, cfg ShredderConfig) (*Shredder, error) {
	if cfg.Variant == 0 {
		cfg.Variant = shred.LegacyData
	}
	if cfg.Variant.Type() != shred.TypeData {
		return nil, fmt.Errorf("shredder needs a data variant, got %s", cfg.Variant)
	}
	if cfg.DataPerSet <= 0 {
		cfg.DataPerSet = DefaultDataShredsPerSet
	}
	coding := cfg.CodingPerSet
	if coding == 0 {
		coding = cfg.DataPerSet
	}
	if cfg.DataPerSet+coding > shred.MaxShardsPerSet {
		return nil, fmt.Errorf("%w: %d:%d", ErrInvalidShape, cfg.DataPerSet, coding)
	}
	return &Shredder{coder: coder, cfg: cfg}, nil
}

// Shred splits batch into data shreds starting at startIndex and groups them
// into FEC sets. The final data shred carries DATA_COMPLETE, and LAST_IN_SLOT
// when lastInSlot is set. It returns the sets and the next free data index.
func (s *Shredder) Shred(slot uint64, parentOffset uint16, startIndex uint32, batch []byte, lastInSlot bool) ([]Set, uint32, error) {
	capacity := s.cfg.Variant.DataCapacity()
	var chunks [][]byte
	for off := 0; off < len(batch); off += capacity {
		chunks = append(chunks, batch[off:min(off+capacity, len(batch))])
	}
	if len(chunks) == 0 {
		chunks = append(chunks, nil)
	}

	var sets []Set
	index := startIndex
	for start := 0; start < len(chunks); start += s.cfg.DataPerSet {
		group := chunks[start:min(start+s.cfg.DataPerSet, len(chunks))]
		final := start+len(group) == len(chunks)
		set, err := s.buildSet(slot, parentOffset, index, group, final, lastInSlot)
		if err != nil {
			return nil, 0, err
		}
		sets = append(sets, set)
		index += uint32(len(group))
	}
	return sets, index, nil
}

func (s *Shredder) buildSet(slot uint64, parentOffset uint16, fecSetIndex uint32, chunks [][]byte, final, lastInSlot bool) (Set, error) {
	key := shred.Key{Slot: slot, FecSetIndex: fecSetIndex}
	sig := setSignature(key)
	numData := len(chunks)
	numCoding := s.cfg.CodingPerSet
	if numCoding == 0 {
		numCoding = numData
	}

	set := Set{Key: key}
	shards := make([][]byte, numData+numCoding)
	for i, chunk := range chunks {
		var flags uint8
		if final && i == numData-1 {
			flags = shred.FlagDataComplete
			if lastInSlot {
				flags = shred.FlagLastInSlot
			}
		}
		raw, err := shred.EncodeData(shred.Common{
			Signature:   sig,
			Variant:     s.cfg.Variant,
			Slot:        slot,
			Index:       fecSetIndex + uint32(i),
			Version:     s.cfg.Version,
			FecSetIndex: fecSetIndex,
		}, parentOffset, flags, chunk)
		if err != nil {
			return Set{}, err
		}
		parsed, err := shred.Parse(raw)
		if err != nil {
			return Set{}, err
		}
		if shards[i], err = parsed.ErasureShard(); err != nil {
			return Set{}, err
		}
		set.Data = append(set.Data, raw)
	}

	if err := s.coder.Encode(shards, numData); err != nil {
		return Set{}, err
	}

	for pos := 0; pos < numCoding; pos++ {
		raw, err := shred.EncodeCoding(shred.Common{
			Signature:   sig,
			Variant:     s.cfg.Variant.CodeVariant(),
			Slot:        slot,
			Index:       fecSetIndex + uint32(pos),
			Version:     s.cfg.Version,
			FecSetIndex: fecSetIndex,
		}, uint16(numData), uint16(numCoding), uint16(pos), shards[numData+pos])
		if err != nil {
			return Set{}, err
		}
		set.Coding = append(set.Coding, raw)
	}
	return set, nil
}

// setSignature is a stand-in leader signature, stable per set. Signatures
// are not verified downstream.
func setSignature(key shred.Key) solana.Signature {
	var sig solana.Signature
	binary.LittleEndian.PutUint64(sig[0:8], key.Slot)
	binary.LittleEndian.PutUint32(sig[8:12], key.FecSetIndex)
	sig[63] = 0x5E
	return sig
}
