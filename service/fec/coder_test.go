package fec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/shredarb/service/shred"
)

func newTestCoder(t *testing.T) *Coder {
	t.Helper()
	c, err := NewCoder(4)
	require.NoError(t, err)
	return c
}

func randomShards(rng *rand.Rand, numData, numParity, size int) [][]byte {
	shards := make([][]byte, numData+numParity)
	for i := 0; i < numData; i++ {
		shards[i] = make([]byte, size)
		rng.Read(shards[i])
	}
	return shards
}

func cloneShards(shards [][]byte) [][]byte {
	out := make([][]byte, len(shards))
	for i, s := range shards {
		out[i] = bytes.Clone(s)
	}
	return out
}

func TestCoder_RecoverAnyErasuresUpToParity(t *testing.T) {
	coder := newTestCoder(t)
	rng := rand.New(rand.NewSource(7))

	shapes := []struct{ data, parity int }{
		{1, 1},
		{4, 2},
		{32, 32},
		{100, 20},
		{67, 189},
	}
	for _, sh := range shapes {
		for trial := 0; trial < 10; trial++ {
			shards := randomShards(rng, sh.data, sh.parity, 64)
			require.NoError(t, coder.Encode(shards, sh.data))
			want := cloneShards(shards[:sh.data])

			damaged := cloneShards(shards)
			erasures := rng.Intn(sh.parity + 1)
			for _, i := range rng.Perm(len(damaged))[:erasures] {
				damaged[i] = nil
			}

			require.NoError(t, coder.Recover(damaged, sh.data), "shape %d:%d erasures %d", sh.data, sh.parity, erasures)
			assert.Equal(t, want, damaged[:sh.data])
		}
	}
}

func TestCoder_RecoverTooFewShards(t *testing.T) {
	coder := newTestCoder(t)
	shards := randomShards(rand.New(rand.NewSource(1)), 10, 3, 32)
	require.NoError(t, coder.Encode(shards, 10))

	for i := 0; i < 4; i++ {
		shards[i] = nil
	}
	err := coder.Recover(shards, 10)
	assert.ErrorIs(t, err, ErrTooFewShards)
}

func TestCoder_InvalidShape(t *testing.T) {
	coder := newTestCoder(t)

	tests := []struct {
		name    string
		total   int
		numData int
	}{
		{"no parity", 4, 4},
		{"no data", 4, 0},
		{"too many shards", 257, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := coder.Recover(make([][]byte, tt.total), tt.numData)
			assert.ErrorIs(t, err, ErrInvalidShape)
		})
	}
}

func TestCoder_Verify(t *testing.T) {
	coder := newTestCoder(t)
	shards := randomShards(rand.New(rand.NewSource(3)), 6, 3, 16)
	require.NoError(t, coder.Encode(shards, 6))

	ok, err := coder.Verify(shards, 6)
	require.NoError(t, err)
	assert.True(t, ok)

	shards[7][0] ^= 0xFF
	ok, err = coder.Verify(shards, 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoder_CachesEncodersPerShape(t *testing.T) {
	coder := newTestCoder(t)
	rng := rand.New(rand.NewSource(5))

	for _, n := range []int{2, 3, 2, 3, 4} {
		shards := randomShards(rng, n, 1, 8)
		require.NoError(t, coder.Encode(shards, n))
	}
	assert.Equal(t, 3, coder.CachedShapes())
}

func TestShredder_SplitsBatchIntoSets(t *testing.T) {
	shredder, err := NewShredder(newTestCoder(t), ShredderConfig{DataPerSet: 4, CodingPerSet: 2})
	require.NoError(t, err)

	capacity := shred.LegacyData.DataCapacity()
	batch := bytes.Repeat([]byte{0x42}, capacity*9+10)

	sets, next, err := shredder.Shred(77, 1, 20, batch, true)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, uint32(30), next)

	assert.Equal(t, shred.Key{Slot: 77, FecSetIndex: 20}, sets[0].Key)
	assert.Equal(t, shred.Key{Slot: 77, FecSetIndex: 24}, sets[1].Key)
	assert.Equal(t, shred.Key{Slot: 77, FecSetIndex: 28}, sets[2].Key)
	assert.Len(t, sets[2].Data, 2)

	var joined []byte
	for si, set := range sets {
		require.Len(t, set.Coding, 2)
		for i, raw := range set.Data {
			s, err := shred.Parse(raw)
			require.NoError(t, err)
			last := si == len(sets)-1 && i == len(set.Data)-1
			assert.Equal(t, last, s.DataComplete())
			assert.Equal(t, last, s.LastInSlot())
			data, err := s.Data()
			require.NoError(t, err)
			joined = append(joined, data...)
		}
		for _, raw := range set.Coding {
			s, err := shred.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, set.Key, s.Key())
			assert.Equal(t, uint16(len(set.Data)), s.NumData)
		}
	}
	assert.Equal(t, batch, joined)
}

// recoverSet drops the given erasure positions and rebuilds the data shreds.
func recoverSet(t *testing.T, coder *Coder, set Set, drop []int) ([]byte, error) {
	t.Helper()
	numData := len(set.Data)
	all := append(append([][]byte{}, set.Data...), set.Coding...)
	dropped := make(map[int]bool, len(drop))
	for _, i := range drop {
		dropped[i] = true
	}

	var variant shred.Variant
	var sample *shred.Shred
	shards := make([][]byte, len(all))
	for i, raw := range all {
		if dropped[i] {
			continue
		}
		s, err := shred.Parse(raw)
		require.NoError(t, err)
		shard, err := s.ErasureShard()
		require.NoError(t, err)
		shards[s.ErasurePosition()] = shard
		sample = s
		variant = s.Variant.DataVariant()
	}

	if err := coder.Recover(shards, numData); err != nil {
		return nil, err
	}
	var out []byte
	for i := 0; i < numData; i++ {
		s, err := shred.FromErasureShard(variant, sample.Signature, shards[i])
		require.NoError(t, err)
		data, err := s.Data()
		require.NoError(t, err)
		out = append(out, data...)
	}
	return out, nil
}

func TestShredder_RecoverAfterLoss(t *testing.T) {
	variants := []shred.Variant{
		shred.LegacyData,
		shred.MerkleDataVariant(7, false, false),
		shred.MerkleDataVariant(6, true, true),
	}
	for _, v := range variants {
		t.Run(v.String(), func(t *testing.T) {
			coder := newTestCoder(t)
			shredder, err := NewShredder(coder, ShredderConfig{Variant: v, DataPerSet: 100, CodingPerSet: 20})
			require.NoError(t, err)

			rng := rand.New(rand.NewSource(11))
			batch := make([]byte, v.DataCapacity()*100)
			rng.Read(batch)

			sets, _, err := shredder.Shred(9, 0, 0, batch, false)
			require.NoError(t, err)
			require.Len(t, sets, 1)

			got, err := recoverSet(t, coder, sets[0], rng.Perm(120)[:15])
			require.NoError(t, err)
			assert.Equal(t, batch, got)

			_, err = recoverSet(t, coder, sets[0], rng.Perm(120)[:25])
			assert.ErrorIs(t, err, ErrTooFewShards)
		})
	}
}

func TestNewShredder_Rejections(t *testing.T) {
	coder := newTestCoder(t)

	_, err := NewShredder(coder, ShredderConfig{Variant: shred.LegacyCode})
	assert.Error(t, err)

	_, err = NewShredder(coder, ShredderConfig{DataPerSet: 200, CodingPerSet: 100})
	assert.ErrorIs(t, err, ErrInvalidShape)
}
