package tracker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/entry"
	"github.com/brojonat/shredarb/service/metrics"
)

// Skip reasons, used as metric labels.
const (
	SkipUnsupported        = "unsupported_instruction"
	SkipMalformed          = "malformed_instruction"
	SkipUnresolvable       = "unresolvable_account"
	SkipAccountLayout      = "account_layout"
	SkipUnknownPool        = "unknown_pool"
	SkipVaultMismatch      = "vault_mismatch"
	SkipAmbiguousDirection = "ambiguous_direction"
	SkipSlippage           = "slippage_exceeded"
	SkipOverflow           = "overflow"
	SkipLiquidity          = "insufficient_liquidity"
	SkipStale              = "stale"
)

// Notifier is told about every pool whose reserves changed.
type Notifier interface {
	Notify(pool solana.PublicKey)
}

// Sink receives tracker events. Implementations must not block.
type Sink interface {
	Swap(SwapEvent)
	Graduate(GraduateEvent)
}

// SwapEvent describes an applied reserve update.
type SwapEvent struct {
	Signature   string           `json:"signature"`
	Key         OrderingKey      `json:"key"`
	Pool        solana.PublicKey `json:"pool"`
	Kind        amm.Kind         `json:"kind"`
	Direction   string           `json:"direction,omitempty"`
	CoinMint    solana.PublicKey `json:"coin_mint"`
	PcMint      solana.PublicKey `json:"pc_mint"`
	AmountIn    uint64           `json:"amount_in"`
	AmountOut   uint64           `json:"amount_out"`
	Reserves    amm.Reserves     `json:"reserves"`
	PriceBefore float64          `json:"price_before"`
	PriceAfter  float64          `json:"price_after"`
	Large       bool             `json:"large"`
	DetectedAt  time.Time        `json:"detected_at"`
}

// GraduateEvent reports a pump.fun token migrating to a Raydium pool.
type GraduateEvent struct {
	Signature      string           `json:"signature"`
	Slot           uint64           `json:"slot"`
	Pool           solana.PublicKey `json:"pool"`
	CoinMint       solana.PublicKey `json:"coin_mint"`
	PcMint         solana.PublicKey `json:"pc_mint"`
	InitCoinAmount uint64           `json:"init_coin_amount"`
	InitPcAmount   uint64           `json:"init_pc_amount"`
	DetectedAt     time.Time        `json:"detected_at"`
}

type Config struct {
	// LargeSwapThreshold flags swaps moving more WSOL lamports than this.
	// Zero disables the check.
	LargeSwapThreshold uint64
	DetectGraduates    bool
	// SkipApply only triages and detects; reserves are never touched.
	SkipApply    bool
	ATACacheSize int
	Clock        clock.Clock
}

type Option func(*Tracker)

func WithNotifier(n Notifier) Option { return func(t *Tracker) { t.notifier = n } }

func WithSink(s Sink) Option { return func(t *Tracker) { t.sink = s } }

// Tracker applies Raydium AMM v4 instructions to the pools of a Registry.
// It is safe for concurrent use; pools serialize their own updates.
type Tracker struct {
	cfg      Config
	registry *Registry
	resolver *resolver
	notifier Notifier
	sink     Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(cfg Config, registry *Registry, m *metrics.Metrics, logger *slog.Logger, opts ...Option) (*Tracker, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	r, err := newResolver(cfg.ATACacheSize)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		cfg:      cfg,
		registry: registry,
		resolver: r,
		metrics:  m,
		logger:   logger.With("component", "tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tracker) Registry() *Registry { return t.registry }

// ProcessBatch applies every transaction of a decoded batch in order and
// returns the number of pool updates applied.
func (t *Tracker) ProcessBatch(slot uint64, batchStart uint32, entries []entry.Entry) int {
	applied := 0
	ordinal := 0
	for _, e := range entries {
		for _, tx := range e.Transactions {
			applied += t.ProcessTransaction(slot, TxIndex(batchStart, ordinal), tx)
			ordinal++
		}
	}
	return applied
}

// ProcessTransaction applies the Raydium AMM v4 instructions of tx.
func (t *Tracker) ProcessTransaction(slot, txIndex uint64, tx *solana.Transaction) int {
	msg := &tx.Message
	if program := amm.ClassifyProgram(msg.AccountKeys); program != "" {
		t.metrics.RecordProgramTransaction(program)
	}
	sig := ""
	if len(tx.Signatures) > 0 {
		sig = tx.Signatures[0].String()
	}
	if t.cfg.DetectGraduates {
		t.detectGraduate(slot, sig, msg)
	}
	if t.cfg.SkipApply {
		return 0
	}

	var hints amm.Hints
	applied := 0
	for i, ix := range msg.Instructions {
		program, err := amm.ProgramID(msg, ix)
		if err != nil || !program.Equals(amm.RaydiumAMMProgramID) {
			continue
		}
		parsed, err := amm.ParseRaydium(ix.Data)
		if err != nil {
			if errors.Is(err, amm.ErrUnsupportedInstruction) {
				t.metrics.RecordSwapSkipped(SkipUnsupported)
			} else {
				t.metrics.RecordSwapSkipped(SkipMalformed)
			}
			continue
		}
		accounts, err := amm.InstructionAccounts(msg, ix)
		if err != nil {
			t.metrics.RecordUnresolvableAccount()
			t.metrics.RecordSwapSkipped(SkipUnresolvable)
			continue
		}

		key := OrderingKey{Slot: slot, TxIndex: txIndex, Instruction: uint32(i)}
		switch v := parsed.(type) {
		case *amm.Initialize2:
			if t.applyInitialize(key, sig, v, accounts) {
				applied++
			}
		default:
			if hints == nil {
				hints = amm.CollectHints(msg)
			}
			if t.applySwap(key, sig, parsed, accounts, hints) {
				applied++
			}
		}
	}
	return applied
}

func (t *Tracker) applySwap(key OrderingKey, sig string, ix amm.Instruction, accounts []solana.PublicKey, hints amm.Hints) bool {
	sa, err := amm.ParseSwapAccounts(accounts)
	if err != nil {
		t.metrics.RecordSwapSkipped(SkipAccountLayout)
		return false
	}
	state, ok := t.registry.Get(sa.Amm)
	if !ok {
		t.metrics.RecordSwapSkipped(SkipUnknownPool)
		return false
	}
	pool := state.Keys()
	if !sa.CoinVault.Equals(pool.CoinVault) || !sa.PcVault.Equals(pool.PcVault) {
		t.metrics.RecordSwapSkipped(SkipVaultMismatch)
		t.logger.Warn("vault mismatch",
			"pool", pool.Address,
			"signature", sig,
			"coin_vault", sa.CoinVault,
			"pc_vault", sa.PcVault,
		)
		return false
	}
	dir, err := t.resolver.direction(pool, sa, hints)
	if err != nil {
		t.metrics.RecordSwapSkipped(SkipAmbiguousDirection)
		t.logger.Debug("skipping swap", "pool", pool.Address, "signature", sig, "error", err)
		return false
	}

	var amountIn, amountOut uint64
	before, after, applied, err := state.Apply(key, func(r amm.Reserves) (amm.Reserves, error) {
		switch v := ix.(type) {
		case *amm.SwapBaseIn:
			next, out, err := amm.ApplySwapBaseIn(r, dir, v.AmountIn, pool.Fee)
			if err != nil {
				return r, err
			}
			if out < v.MinimumAmountOut {
				return r, errSlippage
			}
			amountIn, amountOut = v.AmountIn, out
			return next, nil
		case *amm.SwapBaseOut:
			next, in, err := amm.ApplySwapBaseOut(r, dir, v.AmountOut, pool.Fee)
			if err != nil {
				return r, err
			}
			if in > v.MaxAmountIn {
				return r, errSlippage
			}
			amountIn, amountOut = in, v.AmountOut
			return next, nil
		}
		return r, amm.ErrUnsupportedInstruction
	})
	if err != nil {
		t.metrics.RecordSwapSkipped(skipReason(err))
		t.logger.Debug("swap not applied", "pool", pool.Address, "signature", sig, "key", key, "error", err)
		return false
	}
	if !applied {
		t.metrics.RecordSwapSkipped(SkipStale)
		return false
	}

	t.metrics.RecordSwapApplied(string(ix.Kind()))
	event := SwapEvent{
		Signature:   sig,
		Key:         key,
		Pool:        pool.Address,
		Kind:        ix.Kind(),
		Direction:   dir.String(),
		CoinMint:    pool.CoinMint,
		PcMint:      pool.PcMint,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Reserves:    after.Reserves,
		PriceBefore: before.Price,
		PriceAfter:  after.Price,
		DetectedAt:  t.cfg.Clock.Now(),
	}
	if t.isLarge(pool, dir, amountIn, amountOut) {
		event.Large = true
		t.metrics.RecordLargeSwap()
		t.logger.Info("large swap",
			"signature", sig,
			"pool", pool.Address,
			"direction", event.Direction,
			"amount_in", amountIn,
			"amount_out", amountOut,
			"price_before", before.Price,
			"price_after", after.Price,
		)
	}
	t.updated(pool.Address)
	if t.sink != nil {
		t.sink.Swap(event)
	}
	return true
}

var errSlippage = errors.New("swap exceeds slippage limit")

func skipReason(err error) string {
	switch {
	case errors.Is(err, errSlippage):
		return SkipSlippage
	case errors.Is(err, amm.ErrOverflow):
		return SkipOverflow
	case errors.Is(err, amm.ErrInsufficientLiquidity):
		return SkipLiquidity
	}
	return SkipMalformed
}

// isLarge reports whether the WSOL leg of a swap exceeds the threshold.
func (t *Tracker) isLarge(pool Pool, dir amm.Direction, amountIn, amountOut uint64) bool {
	if t.cfg.LargeSwapThreshold == 0 {
		return false
	}
	var lamports uint64
	switch {
	case pool.CoinMint.Equals(amm.WSOL):
		lamports = amountOut
		if dir == amm.CoinToPc {
			lamports = amountIn
		}
	case pool.PcMint.Equals(amm.WSOL):
		lamports = amountOut
		if dir == amm.PcToCoin {
			lamports = amountIn
		}
	default:
		return false
	}
	return lamports > t.cfg.LargeSwapThreshold
}

// applyInitialize resets a registered pool to its initial deposit.
func (t *Tracker) applyInitialize(key OrderingKey, sig string, ix *amm.Initialize2, accounts []solana.PublicKey) bool {
	ia, err := amm.ParseInitAccounts(accounts)
	if err != nil {
		t.metrics.RecordSwapSkipped(SkipAccountLayout)
		return false
	}
	state, ok := t.registry.Get(ia.Amm)
	if !ok {
		return false
	}
	_, after, applied, err := state.Apply(key, func(amm.Reserves) (amm.Reserves, error) {
		return amm.Reserves{Coin: ix.InitCoinAmount, Pc: ix.InitPcAmount}, nil
	})
	if err != nil || !applied {
		t.metrics.RecordSwapSkipped(SkipStale)
		return false
	}
	t.metrics.RecordSwapApplied(string(ix.Kind()))
	t.logger.Info("pool initialized", "pool", ia.Amm, "signature", sig, "coin", after.Reserves.Coin, "pc", after.Reserves.Pc)
	t.updated(ia.Amm)
	if t.sink != nil {
		t.sink.Swap(SwapEvent{
			Signature:  sig,
			Key:        key,
			Pool:       ia.Amm,
			Kind:       ix.Kind(),
			CoinMint:   after.CoinMint,
			PcMint:     after.PcMint,
			Reserves:   after.Reserves,
			PriceAfter: after.Price,
			DetectedAt: t.cfg.Clock.Now(),
		})
	}
	return true
}

func (t *Tracker) updated(pool solana.PublicKey) {
	if t.notifier != nil {
		t.notifier.Notify(pool)
	}
}

// detectGraduate reports transactions that reference the pump migration
// account and invoke Raydium AMM v4. Pool details come from the first
// Initialize2 in the transaction, when there is one.
func (t *Tracker) detectGraduate(slot uint64, sig string, msg *solana.Message) {
	if !hasKey(msg.AccountKeys, amm.PumpMigrationAccount) {
		return
	}
	event := GraduateEvent{Signature: sig, Slot: slot, DetectedAt: t.cfg.Clock.Now()}
	found := false
	for _, ix := range msg.Instructions {
		program, err := amm.ProgramID(msg, ix)
		if err != nil || !program.Equals(amm.RaydiumAMMProgramID) {
			continue
		}
		found = true
		parsed, err := amm.ParseRaydium(ix.Data)
		if err != nil {
			continue
		}
		init, ok := parsed.(*amm.Initialize2)
		if !ok {
			continue
		}
		accounts, err := amm.InstructionAccounts(msg, ix)
		if err != nil {
			continue
		}
		ia, err := amm.ParseInitAccounts(accounts)
		if err != nil {
			continue
		}
		event.Pool, event.CoinMint, event.PcMint = ia.Amm, ia.CoinMint, ia.PcMint
		event.InitCoinAmount, event.InitPcAmount = init.InitCoinAmount, init.InitPcAmount
		break
	}
	if !found {
		return
	}
	t.metrics.RecordGraduate()
	t.logger.Info("graduate detected", "signature", sig, "slot", slot, "pool", event.Pool, "coin_mint", event.CoinMint)
	if t.sink != nil {
		t.sink.Graduate(event)
	}
}

func hasKey(keys []solana.PublicKey, key solana.PublicKey) bool {
	for _, k := range keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}
