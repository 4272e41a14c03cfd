// Package reconstructor groups shreds into FEC sets and recovers the data
// shreds of each set once enough of it has arrived.
package reconstructor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"

	"github.com/brojonat/shredarb/service/fec"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/shred"
)

// Config controls partitioning and eviction.
type Config struct {
	Shards            int
	MaxAge            time.Duration
	MaxSlotLag        uint64
	SweepInterval     time.Duration
	TombstoneCapacity int
	// ShardBuffer is the per-shard input channel size.
	ShardBuffer int
	Clock       clock.Clock
}

func (c *Config) setDefaults() {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 2 * time.Second
	}
	if c.MaxSlotLag == 0 {
		c.MaxSlotLag = DefaultMaxSlotLag
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 250 * time.Millisecond
	}
	if c.TombstoneCapacity <= 0 {
		c.TombstoneCapacity = 65536
	}
	if c.ShardBuffer <= 0 {
		c.ShardBuffer = 1024
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Reconstructor partitions FEC sets across shard goroutines by key hash, so
// every set is owned by exactly one goroutine and needs no locking.
type Reconstructor struct {
	cfg    Config
	shards []*partition
	out    chan *CompletedSet
	lost   chan LostSet
	logger *slog.Logger
}

type partition struct {
	in   chan *shred.Shred
	core *core
}

// New creates a Reconstructor. Completed sets are delivered on Completed().
func New(cfg Config, coder *fec.Coder, m *metrics.Metrics, logger *slog.Logger) (*Reconstructor, error) {
	cfg.setDefaults()
	logger = logger.With("component", "reconstructor")

	r := &Reconstructor{
		cfg:    cfg,
		out:    make(chan *CompletedSet, cfg.ShardBuffer),
		lost:   make(chan LostSet, cfg.ShardBuffer),
		logger: logger,
	}
	for i := 0; i < cfg.Shards; i++ {
		c, err := newCore(coder, cfg.MaxAge, cfg.MaxSlotLag, cfg.TombstoneCapacity, m, logger.With("shard", i))
		if err != nil {
			return nil, err
		}
		r.shards = append(r.shards, &partition{
			in:   make(chan *shred.Shred, cfg.ShardBuffer),
			core: c,
		})
	}
	return r, nil
}

// Completed returns the channel of reconstructed sets. It is closed when Run returns.
func (r *Reconstructor) Completed() <-chan *CompletedSet { return r.out }

// Lost returns the channel of sets that failed or expired. It is closed
// when Run returns.
func (r *Reconstructor) Lost() <-chan LostSet { return r.lost }

// shardFor maps a FEC set key to its owning shard.
func shardFor(key shred.Key, n int) int {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], key.Slot)
	binary.LittleEndian.PutUint32(buf[8:12], key.FecSetIndex)
	return int(xxhash.Sum64(buf[:]) % uint64(n))
}

// Run dispatches shreds from in to the shard goroutines until ctx is
// cancelled or in is closed. When in closes, the shards drain their input
// before Run returns. Sets still open at shutdown are abandoned.
func (r *Reconstructor) Run(ctx context.Context, in <-chan *shred.Shred) error {
	var wg sync.WaitGroup
	for i, p := range r.shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runShard(ctx, i, p)
		}()
	}
	defer func() {
		for _, p := range r.shards {
			close(p.in)
		}
		wg.Wait()
		close(r.out)
		close(r.lost)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-in:
			if !ok {
				return nil
			}
			p := r.shards[shardFor(s.Key(), len(r.shards))]
			select {
			case p.in <- s:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Reconstructor) runShard(ctx context.Context, i int, p *partition) {
	ticker := r.cfg.Clock.Ticker(r.cfg.SweepInterval)
	defer ticker.Stop()
	defer func() {
		if n := p.core.abandon(); n > 0 {
			r.logger.Debug("abandoned open fec sets", "shard", i, "sets", n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.core.sweep(r.cfg.Clock.Now()); n > 0 {
				r.logger.Debug("swept stale fec sets", "shard", i, "evicted", n, "open", p.core.openSets())
			}
			if !r.sendLost(ctx, p.core.takeLost()) {
				return
			}
		case s, ok := <-p.in:
			if !ok {
				return
			}
			completed := p.core.insert(s, r.cfg.Clock.Now())
			if !r.sendLost(ctx, p.core.takeLost()) {
				return
			}
			if completed == nil {
				continue
			}
			select {
			case r.out <- completed:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Reconstructor) sendLost(ctx context.Context, lost []LostSet) bool {
	for _, ls := range lost {
		select {
		case r.lost <- ls:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// ReconstructAll is a synchronous helper for replay and benchmarks: it feeds
// shreds through a single core and returns every completed set and every
// lost set in the order they ended. Sets left incomplete at the end are
// abandoned.
func ReconstructAll(shreds []*shred.Shred, coder *fec.Coder, cfg Config, m *metrics.Metrics, logger *slog.Logger) ([]*CompletedSet, []LostSet, error) {
	cfg.setDefaults()
	c, err := newCore(coder, cfg.MaxAge, cfg.MaxSlotLag, cfg.TombstoneCapacity, m, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create core: %w", err)
	}
	var (
		out  []*CompletedSet
		lost []LostSet
	)
	now := cfg.Clock.Now()
	for _, s := range shreds {
		completed := c.insert(s, now)
		lost = append(lost, c.takeLost()...)
		if completed != nil {
			out = append(out, completed)
		}
	}
	c.abandon()
	return out, lost, nil
}
