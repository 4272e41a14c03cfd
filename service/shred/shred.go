// Package shred implements the shred wire format: header parsing, variant
// classification, data extraction and the erasure-shard geometry used for
// forward error correction.
package shred

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Wire layout sizes, in bytes.
const (
	PacketSize       = 1232
	SignatureSize    = 64
	CommonHeaderSize = 83
	DataHeaderSize   = 88
	CodingHeaderSize = 89

	LegacyPayloadSize     = 1228
	MerkleDataPayloadSize = 1203
	MerkleCodePayloadSize = 1228
	LegacyShardSize       = LegacyPayloadSize - CodingHeaderSize

	MerkleProofEntrySize = 20
	MerkleRootSize       = 32

	// MaxShardsPerSet bounds data + coding shreds of one FEC set (GF(2^8)).
	MaxShardsPerSet = 256

	offsetVariant = SignatureSize
)

// Data shred flags.
const (
	FlagDataComplete  uint8 = 0b0100_0000
	FlagLastInSlot    uint8 = 0b1100_0000
	FlagReferenceTick uint8 = 0b0011_1111
)

var (
	ErrTooShort       = errors.New("shred too short")
	ErrTooLong        = errors.New("shred too long")
	ErrUnknownVariant = errors.New("unknown shred variant")
	ErrInvalidHeader  = errors.New("invalid shred header")
	ErrInvalidSize    = errors.New("invalid shred size")
)

// Type distinguishes data shreds from coding shreds.
type Type uint8

const (
	TypeData Type = iota
	TypeCoding
)

func (t Type) String() string {
	if t == TypeCoding {
		return "coding"
	}
	return "data"
}

// Key identifies a FEC set.
type Key struct {
	Slot        uint64
	FecSetIndex uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Slot, k.FecSetIndex)
}

// ID identifies a single shred. Data and coding shreds have independent index spaces.
type ID struct {
	Slot  uint64
	Index uint32
	Type  Type
}

// Common is the header shared by data and coding shreds.
type Common struct {
	Signature   solana.Signature
	Variant     Variant
	Slot        uint64
	Index       uint32
	Version     uint16
	FecSetIndex uint32
}

// Shred is a parsed shred. The Payload slice is retained, callers must not reuse it.
type Shred struct {
	Common

	// data header
	ParentOffset uint16
	Flags        uint8
	Size         uint16

	// coding header
	NumData   uint16
	NumCoding uint16
	Position  uint16

	Payload []byte
}

// Parse decodes a raw datagram into a Shred.
func Parse(raw []byte) (*Shred, error) {
	if len(raw) < DataHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(raw))
	}
	if len(raw) > PacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(raw))
	}
	variant, err := ParseVariant(raw[offsetVariant])
	if err != nil {
		return nil, err
	}
	if variant.Type() == TypeCoding && len(raw) < CodingHeaderSize {
		return nil, fmt.Errorf("%w: coding shred with %d bytes", ErrTooShort, len(raw))
	}

	s := &Shred{Payload: raw}
	dec := bin.NewBinDecoder(raw)
	if err := s.decodeCommon(dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if variant.Type() == TypeCoding {
		err = s.decodeCoding(dec)
	} else {
		err = s.decodeData(dec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if err := s.sanitize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shred) decodeCommon(dec *bin.Decoder) (err error) {
	if _, err = dec.Read(s.Signature[:]); err != nil {
		return err
	}
	var v byte
	if v, err = dec.ReadByte(); err != nil {
		return err
	}
	s.Variant = Variant(v)
	if s.Slot, err = dec.ReadUint64(bin.LE); err != nil {
		return err
	}
	if s.Index, err = dec.ReadUint32(bin.LE); err != nil {
		return err
	}
	if s.Version, err = dec.ReadUint16(bin.LE); err != nil {
		return err
	}
	s.FecSetIndex, err = dec.ReadUint32(bin.LE)
	return err
}

func (s *Shred) decodeData(dec *bin.Decoder) (err error) {
	if s.ParentOffset, err = dec.ReadUint16(bin.LE); err != nil {
		return err
	}
	if s.Flags, err = dec.ReadUint8(); err != nil {
		return err
	}
	s.Size, err = dec.ReadUint16(bin.LE)
	return err
}

func (s *Shred) decodeCoding(dec *bin.Decoder) (err error) {
	if s.NumData, err = dec.ReadUint16(bin.LE); err != nil {
		return err
	}
	if s.NumCoding, err = dec.ReadUint16(bin.LE); err != nil {
		return err
	}
	s.Position, err = dec.ReadUint16(bin.LE)
	return err
}

func (s *Shred) sanitize() error {
	if s.IsData() {
		if s.FecSetIndex > s.Index {
			return fmt.Errorf("%w: fec set index %d after shred index %d", ErrInvalidHeader, s.FecSetIndex, s.Index)
		}
		if s.Index-s.FecSetIndex >= MaxShardsPerSet {
			return fmt.Errorf("%w: shred index %d too far from fec set index %d", ErrInvalidHeader, s.Index, s.FecSetIndex)
		}
		if int(s.Size) < DataHeaderSize || int(s.Size) > len(s.Payload) {
			return fmt.Errorf("%w: size %d with %d byte payload", ErrInvalidSize, s.Size, len(s.Payload))
		}
		if int(s.Size)-DataHeaderSize > s.Variant.DataCapacity() {
			return fmt.Errorf("%w: size %d exceeds capacity", ErrInvalidSize, s.Size)
		}
		return nil
	}
	if s.NumData == 0 || s.NumCoding == 0 {
		return fmt.Errorf("%w: empty erasure config %d:%d", ErrInvalidHeader, s.NumData, s.NumCoding)
	}
	if int(s.NumData)+int(s.NumCoding) > MaxShardsPerSet {
		return fmt.Errorf("%w: erasure config %d:%d too large", ErrInvalidHeader, s.NumData, s.NumCoding)
	}
	if s.Position >= s.NumCoding {
		return fmt.Errorf("%w: position %d with %d coding shreds", ErrInvalidHeader, s.Position, s.NumCoding)
	}
	return nil
}

// Type reports whether this is a data or coding shred.
func (s *Shred) Type() Type { return s.Variant.Type() }

// IsData reports whether this is a data shred.
func (s *Shred) IsData() bool { return s.Variant.Type() == TypeData }

// Key returns the FEC set this shred belongs to.
func (s *Shred) Key() Key { return Key{Slot: s.Slot, FecSetIndex: s.FecSetIndex} }

// ID returns the shred identity used for deduplication.
func (s *Shred) ID() ID { return ID{Slot: s.Slot, Index: s.Index, Type: s.Type()} }

// DataComplete reports whether this data shred ends an entry batch.
func (s *Shred) DataComplete() bool {
	return s.IsData() && s.Flags&FlagDataComplete == FlagDataComplete
}

// LastInSlot reports whether this data shred is the last one of its slot.
func (s *Shred) LastInSlot() bool {
	return s.IsData() && s.Flags&FlagLastInSlot == FlagLastInSlot
}

// ReferenceTick returns the tick encoded in the data flags.
func (s *Shred) ReferenceTick() uint8 { return s.Flags & FlagReferenceTick }

// ErasurePosition returns the shard position of this shred inside its FEC set:
// data shreds come first, ordered by index, followed by coding shreds.
func (s *Shred) ErasurePosition() int {
	if s.IsData() {
		return int(s.Index - s.FecSetIndex)
	}
	return int(s.NumData) + int(s.Position)
}

// Data returns the entry bytes carried by a data shred.
func (s *Shred) Data() ([]byte, error) {
	if !s.IsData() {
		return nil, fmt.Errorf("%w: coding shred carries no data", ErrInvalidHeader)
	}
	return s.Payload[DataHeaderSize:s.Size], nil
}

// ErasureShard returns a copy of the bytes this shred contributes to the
// erasure code. Data shreds with trimmed zero padding are padded back.
func (s *Shred) ErasureShard() ([]byte, error) {
	size := s.Variant.ShardSize()
	start := CodingHeaderSize
	if s.IsData() {
		start = 0
		if s.Variant.IsMerkle() {
			start = SignatureSize
		}
	}
	end := start + size
	if len(s.Payload) < end && !s.IsData() {
		return nil, fmt.Errorf("%w: coding shred has %d bytes, shard needs %d", ErrInvalidSize, len(s.Payload), end)
	}
	shard := make([]byte, size)
	copy(shard, s.Payload[start:min(end, len(s.Payload))])
	return shard, nil
}

// FromErasureShard rebuilds a data shred from a recovered erasure shard.
// Merkle shards do not carry the signature, it is taken from sig.
func FromErasureShard(variant Variant, sig solana.Signature, shard []byte) (*Shred, error) {
	if variant.Type() != TypeData {
		return nil, fmt.Errorf("%w: %s is not a data variant", ErrUnknownVariant, variant)
	}
	if len(shard) != variant.ShardSize() {
		return nil, fmt.Errorf("%w: shard of %d bytes, want %d", ErrInvalidSize, len(shard), variant.ShardSize())
	}
	var raw []byte
	if variant.IsMerkle() {
		raw = make([]byte, 0, SignatureSize+len(shard))
		raw = append(raw, sig[:]...)
	} else {
		raw = make([]byte, 0, len(shard))
	}
	raw = append(raw, shard...)

	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if s.Variant != variant {
		return nil, fmt.Errorf("%w: recovered variant %s, want %s", ErrInvalidHeader, s.Variant, variant)
	}
	return s, nil
}

// ErrorReason maps a Parse error to a short label for counters.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrTooLong):
		return "too_long"
	case errors.Is(err, ErrUnknownVariant):
		return "unknown_variant"
	case errors.Is(err, ErrInvalidSize):
		return "invalid_size"
	default:
		return "invalid_header"
	}
}
