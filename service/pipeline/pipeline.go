// Package pipeline wires the listener queue, reconstructor, batch assembler,
// entry decoder, tracker and engine into one running system.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/brojonat/shredarb/service/config"
	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/entry"
	"github.com/brojonat/shredarb/service/fec"
	"github.com/brojonat/shredarb/service/listener"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/reconstructor"
	"github.com/brojonat/shredarb/service/shred"
	"github.com/brojonat/shredarb/service/tracker"
)

// Config configures every stage.
type Config struct {
	// Mode is config.ModeArb or config.ModeGraduates. Save mode does not
	// run the pipeline; see Capture.
	Mode           string
	QueueCapacity  int
	EncoderCache   int
	Reconstructor  reconstructor.Config
	AssemblerSlots uint64
	Tracker        tracker.Config
	Engine         engine.Config
}

// FromConfig maps the service configuration onto stage configs.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Mode:          cfg.Mode,
		QueueCapacity: cfg.QueueCapacity,
		Reconstructor: reconstructor.Config{
			Shards:            cfg.ReconstructorShards,
			MaxAge:            cfg.FecSetMaxAge,
			MaxSlotLag:        cfg.FecSetMaxSlotLag,
			SweepInterval:     cfg.SweepInterval,
			TombstoneCapacity: cfg.TombstoneCapacity,
		},
		AssemblerSlots: cfg.FecSetMaxSlotLag,
		Tracker: tracker.Config{
			LargeSwapThreshold: cfg.LargeSwapThreshold,
		},
		Engine: engine.Config{
			BaseMints: cfg.BaseMints,
			MinProfit: cfg.MinProfit,
		},
	}
}

// Stats counts work done since the pipeline was created.
type Stats struct {
	Sets          uint64 `json:"sets"`
	Batches       uint64 `json:"batches"`
	Entries       uint64 `json:"entries"`
	Transactions  uint64 `json:"transactions"`
	PartialErrors uint64 `json:"partial_errors"`
	Updates       uint64 `json:"updates"`
}

type counters struct {
	sets, batches, entries, transactions, partialErrors, updates atomic.Uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOpportunitySinks adds engine sinks. Ignored in graduates mode.
func WithOpportunitySinks(sinks ...engine.Sink) Option {
	return func(p *Pipeline) { p.oppSinks = append(p.oppSinks, sinks...) }
}

// WithEventSink receives swap and graduate events from the tracker.
func WithEventSink(s tracker.Sink) Option {
	return func(p *Pipeline) { p.eventSink = s }
}

// Pipeline runs shreds from its queue through to the engine.
type Pipeline struct {
	cfg       Config
	queue     *listener.Queue[*shred.Shred]
	coder     *fec.Coder
	recon     *reconstructor.Reconstructor
	assembler *entry.Assembler
	tracker   *tracker.Tracker
	engine    *engine.Engine

	oppSinks  []engine.Sink
	eventSink tracker.Sink

	counters counters
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds every stage over registry.
func New(cfg Config, registry *tracker.Registry, m *metrics.Metrics, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = config.ModeArb
	case config.ModeArb, config.ModeGraduates:
	default:
		return nil, fmt.Errorf("pipeline cannot run in mode %q", cfg.Mode)
	}

	p := &Pipeline{
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "pipeline", "mode", cfg.Mode),
	}
	for _, opt := range opts {
		opt(p)
	}

	coder, err := fec.NewCoder(cfg.EncoderCache)
	if err != nil {
		return nil, err
	}
	p.coder = coder
	p.recon, err = reconstructor.New(cfg.Reconstructor, coder, m, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconstructor: %w", err)
	}
	p.queue = listener.NewQueue[*shred.Shred](cfg.QueueCapacity, m.RecordQueueDropped)
	p.assembler = entry.NewAssembler(cfg.AssemblerSlots, m, logger)

	var trackerOpts []tracker.Option
	if p.eventSink != nil {
		trackerOpts = append(trackerOpts, tracker.WithSink(p.eventSink))
	}
	if cfg.Mode == config.ModeArb {
		p.engine = engine.New(cfg.Engine, registry, m, logger, p.oppSinks...)
		trackerOpts = append(trackerOpts, tracker.WithNotifier(p.engine))
	} else {
		cfg.Tracker.SkipApply = true
		cfg.Tracker.DetectGraduates = true
	}
	p.tracker, err = tracker.New(cfg.Tracker, registry, m, logger, trackerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	return p, nil
}

// Queue is the input queue the listener pushes parsed shreds onto.
func (p *Pipeline) Queue() *listener.Queue[*shred.Shred] { return p.queue }

// Registry is the pool registry the tracker updates.
func (p *Pipeline) Registry() *tracker.Registry { return p.tracker.Registry() }

// Run processes shreds from the queue until ctx is cancelled. In-flight FEC
// sets and partial slots are abandoned on return.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.recon.Run(ctx, p.queue.C())
	})
	g.Go(func() error {
		// Both channels are closed once the reconstructor stops.
		completed, lost := p.recon.Completed(), p.recon.Lost()
		for completed != nil || lost != nil {
			select {
			case cs, ok := <-completed:
				if !ok {
					completed = nil
					continue
				}
				p.ProcessSet(cs)
			case ls, ok := <-lost:
				if !ok {
					lost = nil
					continue
				}
				p.ProcessLost(ls)
			}
		}
		return nil
	})
	if p.engine != nil {
		g.Go(func() error {
			return p.engine.Run(ctx)
		})
	}

	p.logger.Info("pipeline started", "pools", p.Registry().Len(), "queue_capacity", p.queue.Cap())
	err := g.Wait()
	p.logger.Info("pipeline stopped", "stats", p.Stats())
	return err
}

// ProcessSet assembles a completed FEC set into batches and applies every
// batch it completes. It returns the number of pool updates applied. It must
// be called from a single goroutine.
func (p *Pipeline) ProcessSet(cs *reconstructor.CompletedSet) int {
	p.counters.sets.Inc()
	updates := 0
	for _, b := range p.assembler.Add(cs) {
		updates += p.processBatch(b)
	}
	return updates
}

// ProcessLost tells the assembler a set will never complete so its slot can
// resume at the next batch boundary. Same goroutine rules as ProcessSet.
func (p *Pipeline) ProcessLost(ls reconstructor.LostSet) int {
	updates := 0
	for _, b := range p.assembler.Lose(ls) {
		updates += p.processBatch(b)
	}
	return updates
}

func (p *Pipeline) processBatch(b entry.Batch) int {
	p.counters.batches.Inc()

	entries, err := entry.Decode(b.Slot, b.Data)
	if err != nil {
		var partial *entry.PartialEntryError
		if errors.As(err, &partial) {
			p.counters.partialErrors.Inc()
			p.metrics.RecordPartialEntryError()
		}
		p.logger.Debug("partial entry batch", "slot", b.Slot, "start_index", b.StartIndex, "decoded", len(entries), "error", err)
	}

	txs := entry.TransactionCount(entries)
	p.counters.entries.Add(uint64(len(entries)))
	p.counters.transactions.Add(uint64(txs))
	p.metrics.RecordEntriesDecoded(len(entries), txs)

	updates := p.tracker.ProcessBatch(b.Slot, b.StartIndex, entries)
	p.counters.updates.Add(uint64(updates))
	return updates
}

// Stats returns the running totals.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Sets:          p.counters.sets.Load(),
		Batches:       p.counters.batches.Load(),
		Entries:       p.counters.entries.Load(),
		Transactions:  p.counters.transactions.Load(),
		PartialErrors: p.counters.partialErrors.Load(),
		Updates:       p.counters.updates.Load(),
	}
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Stats
	Packets       int `json:"packets"`
	Malformed     int `json:"malformed"`
	Opportunities int `json:"opportunities"`
}

// Replay runs captured datagrams through every stage on the calling
// goroutine, evaluating the engine once at the end. It must not be used
// concurrently with Run.
func (p *Pipeline) Replay(packets [][]byte) (ReplayResult, error) {
	res := ReplayResult{Packets: len(packets)}

	shreds := make([]*shred.Shred, 0, len(packets))
	for _, raw := range packets {
		s, err := shred.Parse(raw)
		if err != nil {
			res.Malformed++
			p.metrics.RecordMalformedPacket(shred.ErrorReason(err))
			continue
		}
		p.metrics.RecordCollected(!s.IsData())
		shreds = append(shreds, s)
	}

	sets, lost, err := reconstructor.ReconstructAll(shreds, p.coder, p.cfg.Reconstructor, p.metrics, p.logger)
	if err != nil {
		return res, fmt.Errorf("failed to reconstruct: %w", err)
	}
	for _, cs := range sets {
		p.ProcessSet(cs)
	}
	for _, ls := range lost {
		p.ProcessLost(ls)
	}
	if p.engine != nil {
		res.Opportunities = p.engine.Drain()
	}
	res.Stats = p.Stats()
	return res, nil
}
