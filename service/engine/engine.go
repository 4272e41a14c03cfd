// Package engine evaluates arbitrage cycles through pools whose reserves
// just changed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/tracker"
)

// Leg is one swap of an opportunity.
type Leg struct {
	Pool       solana.PublicKey `json:"pool"`
	InputMint  solana.PublicKey `json:"input_mint"`
	OutputMint solana.PublicKey `json:"output_mint"`
	AmountIn   uint64           `json:"amount_in"`
	AmountOut  uint64           `json:"amount_out"`
}

// Opportunity is a profitable cycle at the reserves seen when it was found.
type Opportunity struct {
	ID          string              `json:"id"`
	BaseMint    solana.PublicKey    `json:"base_mint"`
	Legs        []Leg               `json:"legs"`
	AmountIn    uint64              `json:"amount_in"`
	AmountOut   uint64              `json:"amount_out"`
	Profit      uint64              `json:"profit"`
	TriggerPool solana.PublicKey    `json:"trigger_pool"`
	Trigger     tracker.OrderingKey `json:"trigger"`
	DetectedAt  time.Time           `json:"detected_at"`
}

// Sink consumes opportunities. Implementations must not block.
type Sink interface {
	Opportunity(Opportunity)
}

type Config struct {
	// BaseMints are the mints cycles start and end at. Defaults to WSOL.
	BaseMints []solana.PublicKey
	// MinProfit is the profit, in base mint units, an opportunity must exceed.
	MinProfit uint64
	// MaxHops bounds the cycle length, 2 or 3.
	MaxHops          int
	SearchIterations int
	Clock            clock.Clock
}

func (c *Config) setDefaults() {
	if len(c.BaseMints) == 0 {
		c.BaseMints = []solana.PublicKey{amm.WSOL}
	}
	if c.MaxHops < 2 || c.MaxHops > 3 {
		c.MaxHops = 3
	}
	if c.SearchIterations <= 0 {
		c.SearchIterations = 128
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Engine re-evaluates cycles through updated pools. Notify only marks the
// pool dirty and pokes a single-slot signal, so bursts of updates to a pool
// coalesce into one evaluation and the tracker never waits on the engine.
type Engine struct {
	cfg      Config
	registry *tracker.Registry
	sinks    []Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	dirty  map[solana.PublicKey]struct{}
	signal chan struct{}

	// fanouts caches the cycles through each pool for one registry size.
	fanoutMu   sync.Mutex
	fanouts    map[solana.PublicKey][]cycle
	fanoutSize int
}

func New(cfg Config, registry *tracker.Registry, m *metrics.Metrics, logger *slog.Logger, sinks ...Sink) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:      cfg,
		registry: registry,
		sinks:    sinks,
		metrics:  m,
		logger:   logger.With("component", "engine"),
		dirty:    make(map[solana.PublicKey]struct{}),
		signal:   make(chan struct{}, 1),
		fanouts:  make(map[solana.PublicKey][]cycle),
	}
}

// Notify marks pool for evaluation.
func (e *Engine) Notify(pool solana.PublicKey) {
	e.mu.Lock()
	e.dirty[pool] = struct{}{}
	e.mu.Unlock()
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) takeDirty() []solana.PublicKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]solana.PublicKey, 0, len(e.dirty))
	for p := range e.dirty {
		out = append(out, p)
	}
	clear(e.dirty)
	return out
}

// Pending reports how many pools await evaluation.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dirty)
}

// Run evaluates dirty pools until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.signal:
			for _, pool := range e.takeDirty() {
				if ctx.Err() != nil {
					return nil
				}
				e.Evaluate(pool)
			}
		}
	}
}

// Drain evaluates every pending pool on the calling goroutine and returns
// how many opportunities were emitted. Replay uses it in place of Run.
func (e *Engine) Drain() int {
	n := 0
	for _, pool := range e.takeDirty() {
		if _, ok := e.Evaluate(pool); ok {
			n++
		}
	}
	return n
}

// Evaluate searches every cycle through pool and hands the most profitable
// one above the threshold to the sinks. It returns that opportunity, if any.
func (e *Engine) Evaluate(pool solana.PublicKey) (Opportunity, bool) {
	e.metrics.RecordEvaluation()
	defer metrics.Timer(time.Now(), e.metrics.ObserveEvaluation)()

	var (
		best     Opportunity
		found    bool
		overflow bool
	)
	for _, c := range e.cycles(pool) {
		reserves, trigger := snapshot(c)
		q, err := search(c.hops, reserves, e.cfg.SearchIterations)
		if errors.Is(err, amm.ErrOverflow) {
			overflow = true
			continue
		}
		if err != nil {
			continue
		}
		profit := q.profit()
		if profit <= e.cfg.MinProfit || (found && profit <= best.Profit) {
			continue
		}
		best = e.opportunity(c, q, pool, trigger)
		found = true
	}
	if overflow {
		e.metrics.RecordOverflowRejection()
		e.logger.Debug("overflow while evaluating cycles", "pool", pool)
	}
	if !found {
		return Opportunity{}, false
	}

	e.metrics.RecordOpportunity()
	e.logger.Info("arbitrage opportunity",
		"id", best.ID,
		"base_mint", best.BaseMint,
		"legs", len(best.Legs),
		"amount_in", best.AmountIn,
		"profit", best.Profit,
	)
	for _, s := range e.sinks {
		s.Opportunity(best)
	}
	return best, true
}

func (e *Engine) opportunity(c cycle, q quote, pool solana.PublicKey, trigger tracker.OrderingKey) Opportunity {
	legs := make([]Leg, len(c.hops))
	in := q.amountIn
	for i, h := range c.hops {
		legs[i] = Leg{
			Pool:       h.pool.Address,
			InputMint:  h.in,
			OutputMint: h.out,
			AmountIn:   in,
			AmountOut:  q.legs[i],
		}
		in = q.legs[i]
	}
	return Opportunity{
		ID:          fmt.Sprintf("%d-%d-%d-%s", trigger.Slot, trigger.TxIndex, trigger.Instruction, pool),
		BaseMint:    c.base,
		Legs:        legs,
		AmountIn:    q.amountIn,
		AmountOut:   q.amountOut,
		Profit:      q.profit(),
		TriggerPool: pool,
		Trigger:     trigger,
		DetectedAt:  e.cfg.Clock.Now(),
	}
}

// cycles returns the cached fanout of pool, rebuilding the cache whenever
// the registry has grown.
func (e *Engine) cycles(pool solana.PublicKey) []cycle {
	e.fanoutMu.Lock()
	defer e.fanoutMu.Unlock()
	if n := e.registry.Len(); n != e.fanoutSize {
		clear(e.fanouts)
		e.fanoutSize = n
	}
	cs, ok := e.fanouts[pool]
	if !ok {
		cs = cyclesThrough(e.registry, pool, e.cfg.BaseMints, e.cfg.MaxHops)
		e.fanouts[pool] = cs
	}
	return cs
}
