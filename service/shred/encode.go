package shred

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

func (c Common) encode(enc *bin.Encoder) error {
	if _, err := enc.Write(c.Signature[:]); err != nil {
		return err
	}
	if err := enc.WriteByte(byte(c.Variant)); err != nil {
		return err
	}
	if err := enc.WriteUint64(c.Slot, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint32(c.Index, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint16(c.Version, bin.LE); err != nil {
		return err
	}
	return enc.WriteUint32(c.FecSetIndex, bin.LE)
}

// EncodeData serializes a data shred, zero-padded to the variant's payload size.
// Merkle proofs and chained roots are left zeroed.
func EncodeData(c Common, parentOffset uint16, flags uint8, data []byte) ([]byte, error) {
	if c.Variant.Type() != TypeData {
		return nil, fmt.Errorf("%w: %s is not a data variant", ErrUnknownVariant, c.Variant)
	}
	if len(data) > c.Variant.DataCapacity() {
		return nil, fmt.Errorf("%w: %d bytes exceeds capacity %d", ErrInvalidSize, len(data), c.Variant.DataCapacity())
	}

	var buf bytes.Buffer
	buf.Grow(c.Variant.PayloadSize())
	enc := bin.NewBinEncoder(&buf)
	if err := c.encode(enc); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(parentOffset, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(flags); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(uint16(DataHeaderSize+len(data)), bin.LE); err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		return nil, err
	}

	payload := make([]byte, c.Variant.PayloadSize())
	copy(payload, buf.Bytes())
	return payload, nil
}

// EncodeCoding serializes a coding shred carrying one parity shard.
func EncodeCoding(c Common, numData, numCoding, position uint16, parity []byte) ([]byte, error) {
	if c.Variant.Type() != TypeCoding {
		return nil, fmt.Errorf("%w: %s is not a coding variant", ErrUnknownVariant, c.Variant)
	}
	if len(parity) != c.Variant.ShardSize() {
		return nil, fmt.Errorf("%w: parity of %d bytes, want %d", ErrInvalidSize, len(parity), c.Variant.ShardSize())
	}

	var buf bytes.Buffer
	buf.Grow(c.Variant.PayloadSize())
	enc := bin.NewBinEncoder(&buf)
	if err := c.encode(enc); err != nil {
		return nil, err
	}
	for _, v := range []uint16{numData, numCoding, position} {
		if err := enc.WriteUint16(v, bin.LE); err != nil {
			return nil, err
		}
	}
	if _, err := enc.Write(parity); err != nil {
		return nil, err
	}

	payload := make([]byte, c.Variant.PayloadSize())
	copy(payload, buf.Bytes())
	return payload, nil
}
