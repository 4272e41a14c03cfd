package shred

import "fmt"

// Variant is the shred type byte. Legacy variants are fixed values; merkle
// variants carry the authentication scheme in the high nibble and the merkle
// proof length in the low nibble.
type Variant byte

const (
	LegacyData Variant = 0xA5
	LegacyCode Variant = 0x5A
)

const (
	merkleCode                byte = 0x40
	merkleCodeChained         byte = 0x60
	merkleCodeChainedResigned byte = 0x70
	merkleData                byte = 0x80
	merkleDataChained         byte = 0x90
	merkleDataChainedResigned byte = 0xB0
)

// ParseVariant validates a variant byte.
func ParseVariant(b byte) (Variant, error) {
	switch Variant(b) {
	case LegacyData, LegacyCode:
		return Variant(b), nil
	}
	switch b & 0xF0 {
	case merkleCode, merkleCodeChained, merkleCodeChainedResigned,
		merkleData, merkleDataChained, merkleDataChainedResigned:
		return Variant(b), nil
	}
	return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownVariant, b)
}

// MerkleDataVariant builds a merkle data variant.
func MerkleDataVariant(proofSize int, chained, resigned bool) Variant {
	hi := merkleData
	switch {
	case resigned:
		hi = merkleDataChainedResigned
	case chained:
		hi = merkleDataChained
	}
	return Variant(hi | byte(proofSize&0x0F))
}

// MerkleCodeVariant builds a merkle coding variant.
func MerkleCodeVariant(proofSize int, chained, resigned bool) Variant {
	return MerkleDataVariant(proofSize, chained, resigned).CodeVariant()
}

// Type reports the shred type encoded in the variant.
func (v Variant) Type() Type {
	switch v {
	case LegacyCode:
		return TypeCoding
	case LegacyData:
		return TypeData
	}
	switch byte(v) & 0xF0 {
	case merkleCode, merkleCodeChained, merkleCodeChainedResigned:
		return TypeCoding
	}
	return TypeData
}

func (v Variant) IsMerkle() bool { return v != LegacyData && v != LegacyCode }

// ProofSize is the number of merkle proof entries.
func (v Variant) ProofSize() int {
	if !v.IsMerkle() {
		return 0
	}
	return int(v & 0x0F)
}

func (v Variant) Chained() bool {
	switch byte(v) & 0xF0 {
	case merkleCodeChained, merkleCodeChainedResigned, merkleDataChained, merkleDataChainedResigned:
		return v.IsMerkle()
	}
	return false
}

func (v Variant) Resigned() bool {
	switch byte(v) & 0xF0 {
	case merkleCodeChainedResigned, merkleDataChainedResigned:
		return v.IsMerkle()
	}
	return false
}

// DataVariant returns the data variant that pairs with a coding variant of the same FEC set.
func (v Variant) DataVariant() Variant {
	if v.Type() == TypeData {
		return v
	}
	if v == LegacyCode {
		return LegacyData
	}
	return MerkleDataVariant(v.ProofSize(), v.Chained(), v.Resigned())
}

// CodeVariant returns the coding variant that pairs with a data variant of the same FEC set.
func (v Variant) CodeVariant() Variant {
	if v.Type() == TypeCoding {
		return v
	}
	if v == LegacyData {
		return LegacyCode
	}
	hi := merkleCode
	switch {
	case v.Resigned():
		hi = merkleCodeChainedResigned
	case v.Chained():
		hi = merkleCodeChained
	}
	return Variant(hi | byte(v.ProofSize()))
}

// ShardSize is the erasure shard length for every shred of a set with this variant.
func (v Variant) ShardSize() int {
	if !v.IsMerkle() {
		return LegacyShardSize
	}
	size := LegacyShardSize - v.ProofSize()*MerkleProofEntrySize
	if v.Resigned() {
		size -= SignatureSize
	}
	return size
}

// DataCapacity is the number of entry bytes a data shred of this variant holds.
func (v Variant) DataCapacity() int {
	if !v.IsMerkle() {
		return LegacyShardSize - DataHeaderSize
	}
	capacity := v.ShardSize() + SignatureSize - DataHeaderSize
	if v.Chained() {
		capacity -= MerkleRootSize
	}
	return capacity
}

// PayloadSize is the serialized length of a shred with this variant.
func (v Variant) PayloadSize() int {
	if v.IsMerkle() && v.Type() == TypeData {
		return MerkleDataPayloadSize
	}
	return LegacyPayloadSize
}

func (v Variant) String() string {
	switch {
	case v == LegacyData:
		return "legacy_data"
	case v == LegacyCode:
		return "legacy_code"
	case v.Type() == TypeData:
		return fmt.Sprintf("merkle_data(%d)", v.ProofSize())
	default:
		return fmt.Sprintf("merkle_code(%d)", v.ProofSize())
	}
}
