// Package fec wraps systematic Reed-Solomon erasure coding over GF(2^8) for
// shred FEC sets, and provides a Shredder that produces well-formed sets from
// an entry batch.
package fec

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/reedsolomon"

	"github.com/brojonat/shredarb/service/shred"
)

// DefaultEncoderCacheSize bounds the number of distinct (data, parity)
// shapes kept warm. Production sets use a handful of shapes.
const DefaultEncoderCacheSize = 64

var (
	ErrInvalidShape  = errors.New("invalid erasure shape")
	ErrTooFewShards  = errors.New("too few shards to recover")
	ErrInvalidShards = errors.New("invalid shard layout")
)

type shape struct {
	data, parity int
}

// Coder encodes and recovers FEC sets. It is safe for concurrent use.
type Coder struct {
	encoders *lru.Cache[shape, reedsolomon.Encoder]
}

// NewCoder creates a Coder caching up to cacheSize encoders.
func NewCoder(cacheSize int) (*Coder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultEncoderCacheSize
	}
	cache, err := lru.New[shape, reedsolomon.Encoder](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder cache: %w", err)
	}
	return &Coder{encoders: cache}, nil
}

func (c *Coder) encoder(numData, numParity int) (reedsolomon.Encoder, error) {
	if numData <= 0 || numParity <= 0 || numData+numParity > shred.MaxShardsPerSet {
		return nil, fmt.Errorf("%w: %d:%d", ErrInvalidShape, numData, numParity)
	}
	key := shape{data: numData, parity: numParity}
	if enc, ok := c.encoders.Get(key); ok {
		return enc, nil
	}
	enc, err := reedsolomon.New(numData, numParity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	c.encoders.Add(key, enc)
	return enc, nil
}

// Encode fills the parity shards of shards, which holds numData data shards
// followed by the parity shards. Nil parity entries are allocated.
func (c *Coder) Encode(shards [][]byte, numData int) error {
	enc, err := c.encoder(numData, len(shards)-numData)
	if err != nil {
		return err
	}
	if len(shards[0]) == 0 {
		return fmt.Errorf("%w: empty first shard", ErrInvalidShards)
	}
	size := len(shards[0])
	for i := numData; i < len(shards); i++ {
		if shards[i] == nil {
			shards[i] = make([]byte, size)
		}
	}
	if err := enc.Encode(shards); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShards, err)
	}
	return nil
}

// Recover fills in the missing data shards in place. Missing shards are nil
// entries. Parity shards are not rebuilt.
func (c *Coder) Recover(shards [][]byte, numData int) error {
	enc, err := c.encoder(numData, len(shards)-numData)
	if err != nil {
		return err
	}
	present := 0
	for _, s := range shards {
		if s != nil {
			present++
		}
	}
	if present < numData {
		return fmt.Errorf("%w: have %d of %d", ErrTooFewShards, present, numData)
	}
	if err := enc.ReconstructData(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return fmt.Errorf("%w: %v", ErrTooFewShards, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidShards, err)
	}
	return nil
}

// Verify reports whether the parity shards are consistent with the data shards.
func (c *Coder) Verify(shards [][]byte, numData int) (bool, error) {
	enc, err := c.encoder(numData, len(shards)-numData)
	if err != nil {
		return false, err
	}
	return enc.Verify(shards)
}

// CachedShapes returns the number of encoders currently cached.
func (c *Coder) CachedShapes() int { return c.encoders.Len() }
