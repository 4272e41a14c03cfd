package tracker

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/entry"
	"github.com/brojonat/shredarb/service/metrics"
)

func key(seed byte) solana.PublicKey {
	return solana.PublicKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
}

var (
	poolAddr  = key(1)
	tokenMint = key(2)
	coinVault = key(3)
	pcVault   = key(4)
	trader    = key(50)
)

func testPool() Pool {
	return Pool{
		Address:      poolAddr,
		CoinMint:     tokenMint,
		PcMint:       amm.WSOL,
		CoinVault:    coinVault,
		PcVault:      pcVault,
		CoinDecimals: 6,
		PcDecimals:   9,
		Fee:          amm.DefaultFee,
		Reserves:     amm.Reserves{Coin: 1_000_000_000_000, Pc: 100_000_000_000},
	}
}

type recordingSink struct {
	mu        sync.Mutex
	swaps     []SwapEvent
	graduates []GraduateEvent
}

func (s *recordingSink) Swap(e SwapEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps = append(s.swaps, e)
}

func (s *recordingSink) Graduate(e GraduateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graduates = append(s.graduates, e)
}

type recordingNotifier struct {
	mu    sync.Mutex
	pools []solana.PublicKey
}

func (n *recordingNotifier) Notify(pool solana.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pools = append(n.pools, pool)
}

type fixture struct {
	tracker  *Tracker
	registry *Registry
	sink     *recordingSink
	notifier *recordingNotifier
	reg      *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{
		registry: NewRegistry(testPool()),
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
		reg:      reg,
	}
	tr, err := New(cfg, f.registry, metrics.NewMetrics(reg), slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithSink(f.sink), WithNotifier(f.notifier))
	require.NoError(t, err)
	f.tracker = tr
	return f
}

func (f *fixture) reserves(t *testing.T) amm.Reserves {
	t.Helper()
	s, ok := f.registry.Get(poolAddr)
	require.True(t, ok)
	return s.Snapshot().Reserves
}

// counters flattens gathered metrics; labelled series are keyed as
// name{value} by their first label value.
func (f *fixture) counters(t *testing.T) map[string]float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			name := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				name = fmt.Sprintf("%s{%s}", name, labels[0].GetValue())
			}
			out[name] += m.GetCounter().GetValue()
		}
	}
	return out
}

func ata(t *testing.T, mint solana.PublicKey) solana.PublicKey {
	t.Helper()
	addr, err := amm.AssociatedTokenAddress(trader, mint, amm.TokenProgramID)
	require.NoError(t, err)
	return addr
}

func swapTx(t *testing.T, ix amm.Instruction, source, destination solana.PublicKey, targetOrders bool, extra ...solana.Instruction) *solana.Transaction {
	t.Helper()
	swap := amm.NewSwapInstruction(ix, amm.SwapAccounts{
		Amm:         poolAddr,
		CoinVault:   coinVault,
		PcVault:     pcVault,
		Source:      source,
		Destination: destination,
		Owner:       trader,
	}, targetOrders)
	tx, err := solana.NewTransaction(append(extra, swap), solana.Hash{7}, solana.TransactionPayer(trader))
	require.NoError(t, err)
	return tx
}

func initAccount3(account, mint solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(amm.TokenProgramID, solana.AccountMetaSlice{
		solana.Meta(account).WRITE(), solana.Meta(mint),
	}, append([]byte{18}, trader[:]...))
}

func TestTracker_SwapDirection(t *testing.T) {
	coinATA, pcATA := ata(t, tokenMint), ata(t, amm.WSOL)
	tempWSOL, stranger := key(60), key(61)
	initial := testPool().Reserves

	tests := []struct {
		name         string
		ix           amm.Instruction
		source, dest solana.PublicKey
		targetOrders bool
		extra        []solana.Instruction
		direction    amm.Direction
	}{
		{
			name: "base in sells coin", ix: &amm.SwapBaseIn{AmountIn: 1_000_000},
			source: coinATA, dest: pcATA, targetOrders: true, direction: amm.CoinToPc,
		},
		{
			// the instruction variant alone would suggest coin to pc
			name: "base in sells pc", ix: &amm.SwapBaseIn{AmountIn: 1_000_000},
			source: pcATA, dest: coinATA, targetOrders: true, direction: amm.PcToCoin,
		},
		{
			name: "base out buys pc", ix: &amm.SwapBaseOut{MaxAmountIn: 1 << 62, AmountOut: 5_000},
			source: coinATA, dest: pcATA, direction: amm.CoinToPc,
		},
		{
			name: "base out buys coin", ix: &amm.SwapBaseOut{MaxAmountIn: 1 << 62, AmountOut: 5_000},
			source: pcATA, dest: coinATA, direction: amm.PcToCoin,
		},
		{
			name: "17 account layout", ix: &amm.SwapBaseIn{AmountIn: 777},
			source: pcATA, dest: coinATA, targetOrders: false, direction: amm.PcToCoin,
		},
		{
			name: "temporary wsol account from hint", ix: &amm.SwapBaseIn{AmountIn: 2_000_000},
			source: tempWSOL, dest: stranger, targetOrders: true,
			extra:     []solana.Instruction{initAccount3(tempWSOL, amm.WSOL)},
			direction: amm.PcToCoin,
		},
		{
			name: "only destination resolves", ix: &amm.SwapBaseIn{AmountIn: 3_000},
			source: stranger, dest: coinATA, targetOrders: true, direction: amm.PcToCoin,
		},
		{
			name: "only source resolves", ix: &amm.SwapBaseIn{AmountIn: 3_000},
			source: coinATA, dest: stranger, targetOrders: true, direction: amm.CoinToPc,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			tx := swapTx(t, tt.ix, tt.source, tt.dest, tt.targetOrders, tt.extra...)
			require.Equal(t, 1, f.tracker.ProcessTransaction(10, 0, tx))

			var want amm.Reserves
			var err error
			switch v := tt.ix.(type) {
			case *amm.SwapBaseIn:
				want, _, err = amm.ApplySwapBaseIn(initial, tt.direction, v.AmountIn, amm.DefaultFee)
			case *amm.SwapBaseOut:
				want, _, err = amm.ApplySwapBaseOut(initial, tt.direction, v.AmountOut, amm.DefaultFee)
			}
			require.NoError(t, err)
			assert.Equal(t, want, f.reserves(t))

			require.Len(t, f.sink.swaps, 1)
			assert.Equal(t, tt.direction.String(), f.sink.swaps[0].Direction)
			assert.Equal(t, tx.Signatures[0].String(), f.sink.swaps[0].Signature)
			assert.Equal(t, []solana.PublicKey{poolAddr}, f.notifier.pools)
		})
	}
}

func TestTracker_AmbiguousDirectionSkipped(t *testing.T) {
	coinATA, pcATA := ata(t, tokenMint), ata(t, amm.WSOL)
	hinted, foreign := key(70), key(71)

	tests := []struct {
		name         string
		source, dest solana.PublicKey
		extra        []solana.Instruction
	}{
		{"nothing resolves", key(80), key(81), nil},
		{"both accounts hold coin", coinATA, coinATA, nil},
		{
			"hint conflicts with derived account", hinted, coinATA,
			[]solana.Instruction{initAccount3(hinted, tokenMint)},
		},
		{
			"foreign mint", foreign, pcATA,
			[]solana.Instruction{initAccount3(foreign, key(99))},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			tx := swapTx(t, &amm.SwapBaseIn{AmountIn: 1_000}, tt.source, tt.dest, true, tt.extra...)
			assert.Equal(t, 0, f.tracker.ProcessTransaction(10, 0, tx))
			assert.Equal(t, testPool().Reserves, f.reserves(t))
			assert.Equal(t, 1.0, f.counters(t)["swaps_skipped_total{"+SkipAmbiguousDirection+"}"])
			assert.Empty(t, f.notifier.pools)
		})
	}
}

func TestTracker_MonotonicApplyScenario(t *testing.T) {
	f := newFixture(t, Config{})
	coinATA, pcATA := ata(t, tokenMint), ata(t, amm.WSOL)

	late := swapTx(t, &amm.SwapBaseIn{AmountIn: 40_000_000}, coinATA, pcATA, true)
	early := swapTx(t, &amm.SwapBaseIn{AmountIn: 9_000_000}, pcATA, coinATA, true)

	assert.Equal(t, 1, f.tracker.ProcessTransaction(10, 3, late))
	assert.Equal(t, 0, f.tracker.ProcessTransaction(10, 1, early))

	want, _, err := amm.ApplySwapBaseIn(testPool().Reserves, amm.CoinToPc, 40_000_000, amm.DefaultFee)
	require.NoError(t, err)
	snap, _ := f.registry.Get(poolAddr)
	assert.Equal(t, want, snap.Snapshot().Reserves)
	assert.Equal(t, OrderingKey{Slot: 10, TxIndex: 3}, snap.Snapshot().LastApplied)
	assert.Equal(t, 1.0, f.counters(t)["swaps_skipped_total{"+SkipStale+"}"])

	// redelivery of the applied update is dropped too
	assert.Equal(t, 0, f.tracker.ProcessTransaction(10, 3, late))
	assert.Equal(t, want, f.reserves(t))
}

type update struct {
	key OrderingKey
	tx  *solana.Transaction
	dir amm.Direction
	in  uint64
}

func testUpdates(t *testing.T, n int) []update {
	t.Helper()
	coinATA, pcATA := ata(t, tokenMint), ata(t, amm.WSOL)
	var out []update
	for i := 0; i < n; i++ {
		u := update{
			key: OrderingKey{Slot: uint64(10 + i/3), TxIndex: TxIndex(uint32(i%3), i)},
			dir: amm.Direction(i % 2),
			in:  uint64(1_000_000 * (i + 1)),
		}
		src, dst := coinATA, pcATA
		if u.dir == amm.PcToCoin {
			src, dst = pcATA, coinATA
		}
		u.tx = swapTx(t, &amm.SwapBaseIn{AmountIn: u.in}, src, dst, true)
		out = append(out, u)
	}
	return out
}

// replay applies updates sequentially in key order to the initial reserves.
func replay(t *testing.T, updates []update) amm.Reserves {
	t.Helper()
	sorted := append([]update(nil), updates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].key.Compare(sorted[j].key) < 0 })
	r := testPool().Reserves
	for _, u := range sorted {
		var err error
		r, _, err = amm.ApplySwapBaseIn(r, u.dir, u.in, amm.DefaultFee)
		require.NoError(t, err)
	}
	return r
}

func TestTracker_MonotonicApplyInterleavings(t *testing.T) {
	updates := testUpdates(t, 8)
	maxKey := updates[len(updates)-1].key

	t.Run("sorted delivery applies everything", func(t *testing.T) {
		f := newFixture(t, Config{})
		for _, u := range updates {
			require.Equal(t, 1, f.tracker.ProcessTransaction(u.key.Slot, u.key.TxIndex, u.tx))
		}
		assert.Equal(t, replay(t, updates), f.reserves(t))
	})

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 25; trial++ {
		t.Run(fmt.Sprintf("shuffled %d", trial), func(t *testing.T) {
			f := newFixture(t, Config{})
			shuffled := append([]update(nil), updates...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			var applied []update
			var last *OrderingKey
			for _, u := range shuffled {
				if f.tracker.ProcessTransaction(u.key.Slot, u.key.TxIndex, u.tx) == 1 {
					if last != nil {
						require.Equal(t, 1, u.key.Compare(*last), "older update applied after newer one")
					}
					k := u.key
					last = &k
					applied = append(applied, u)
				}
			}
			state, _ := f.registry.Get(poolAddr)
			assert.Equal(t, maxKey, state.Snapshot().LastApplied)
			assert.Equal(t, replay(t, applied), f.reserves(t))
		})
	}

	t.Run("concurrent delivery", func(t *testing.T) {
		f := newFixture(t, Config{})
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				r := rand.New(rand.NewSource(seed))
				for _, i := range r.Perm(len(updates)) {
					u := updates[i]
					f.tracker.ProcessTransaction(u.key.Slot, u.key.TxIndex, u.tx)
				}
			}(int64(w))
		}
		wg.Wait()

		var applied []update
		for _, e := range f.sink.swaps {
			for _, u := range updates {
				if u.key == e.Key {
					applied = append(applied, u)
				}
			}
		}
		state, _ := f.registry.Get(poolAddr)
		assert.Equal(t, maxKey, state.Snapshot().LastApplied)
		assert.Equal(t, replay(t, applied), f.reserves(t))
	})
}

func TestTracker_ProcessBatchOrdersTransactions(t *testing.T) {
	f := newFixture(t, Config{})
	updates := testUpdates(t, 3)
	entries := []entry.Entry{
		{NumHashes: 1, Transactions: []*solana.Transaction{updates[0].tx}},
		{NumHashes: 1},
		{NumHashes: 1, Transactions: []*solana.Transaction{updates[1].tx, updates[2].tx}},
	}
	assert.Equal(t, 3, f.tracker.ProcessBatch(12, 64, entries))
	require.Len(t, f.sink.swaps, 3)
	for i, e := range f.sink.swaps {
		assert.Equal(t, OrderingKey{Slot: 12, TxIndex: TxIndex(64, i)}, e.Key)
	}

	// a later batch of the same slot orders after every transaction above
	assert.Equal(t, 1, f.tracker.ProcessBatch(12, 65, entries[:1]))
	assert.Equal(t, 0, f.tracker.ProcessBatch(12, 63, entries[:1]))
}

func TestTracker_Skips(t *testing.T) {
	coinATA, pcATA := ata(t, tokenMint), ata(t, amm.WSOL)

	t.Run("vault mismatch", func(t *testing.T) {
		f := newFixture(t, Config{})
		swap := amm.NewSwapInstruction(&amm.SwapBaseIn{AmountIn: 10}, amm.SwapAccounts{
			Amm: poolAddr, CoinVault: pcVault, PcVault: coinVault,
			Source: coinATA, Destination: pcATA, Owner: trader,
		}, true)
		tx, err := solana.NewTransaction([]solana.Instruction{swap}, solana.Hash{}, solana.TransactionPayer(trader))
		require.NoError(t, err)
		assert.Equal(t, 0, f.tracker.ProcessTransaction(1, 0, tx))
		assert.Equal(t, 1.0, f.counters(t)["swaps_skipped_total{"+SkipVaultMismatch+"}"])
	})

	t.Run("slippage limit", func(t *testing.T) {
		f := newFixture(t, Config{})
		tx := swapTx(t, &amm.SwapBaseIn{AmountIn: 10, MinimumAmountOut: 1 << 40}, coinATA, pcATA, true)
		assert.Equal(t, 0, f.tracker.ProcessTransaction(1, 0, tx))
		assert.Equal(t, testPool().Reserves, f.reserves(t))
		state, _ := f.registry.Get(poolAddr)
		assert.Zero(t, state.Snapshot().Updates)

		tx = swapTx(t, &amm.SwapBaseOut{MaxAmountIn: 1, AmountOut: 1_000_000}, coinATA, pcATA, true)
		assert.Equal(t, 0, f.tracker.ProcessTransaction(1, 1, tx))
		assert.Equal(t, 2.0, f.counters(t)["swaps_skipped_total{"+SkipSlippage+"}"])
	})

	t.Run("drains the pool", func(t *testing.T) {
		f := newFixture(t, Config{})
		tx := swapTx(t, &amm.SwapBaseOut{MaxAmountIn: 1 << 63, AmountOut: testPool().Reserves.Pc}, coinATA, pcATA, true)
		assert.Equal(t, 0, f.tracker.ProcessTransaction(1, 0, tx))
		assert.Equal(t, 1.0, f.counters(t)["swaps_skipped_total{"+SkipLiquidity+"}"])
	})

	t.Run("unsupported instruction", func(t *testing.T) {
		f := newFixture(t, Config{})
		deposit := solana.NewInstruction(amm.RaydiumAMMProgramID, solana.AccountMetaSlice{
			solana.Meta(trader).SIGNER().WRITE(),
		}, []byte{3, 1, 2, 3})
		tx, err := solana.NewTransaction([]solana.Instruction{deposit}, solana.Hash{}, solana.TransactionPayer(trader))
		require.NoError(t, err)
		assert.Equal(t, 0, f.tracker.ProcessTransaction(1, 0, tx))
		values := f.counters(t)
		assert.Equal(t, 1.0, values["swaps_skipped_total{"+SkipUnsupported+"}"])
		assert.Equal(t, 1.0, values["program_transactions_total{"+amm.ProgramRaydiumAMM+"}"])
	})

	t.Run("lookup table accounts", func(t *testing.T) {
		f := newFixture(t, Config{})
		tx := &solana.Transaction{
			Signatures: []solana.Signature{{1}},
			Message: solana.Message{
				AccountKeys: []solana.PublicKey{trader, amm.RaydiumAMMProgramID},
				Instructions: []solana.CompiledInstruction{{
					ProgramIDIndex: 1,
					Accounts:       []uint16{0, 2, 3},
					Data:           (&amm.SwapBaseIn{AmountIn: 1}).Encode(),
				}},
			},
		}
		assert.Equal(t, 0, f.tracker.ProcessTransaction(1, 0, tx))
		values := f.counters(t)
		assert.Equal(t, 1.0, values["unresolvable_accounts_total"])
		assert.Equal(t, 1.0, values["swaps_skipped_total{"+SkipUnresolvable+"}"])
	})

	t.Run("unknown pool", func(t *testing.T) {
		f := newFixture(t, Config{})
		swap := amm.NewSwapInstruction(&amm.SwapBaseIn{AmountIn: 10}, amm.SwapAccounts{
			Amm: key(90), CoinVault: coinVault, PcVault: pcVault,
			Source: coinATA, Destination: pcATA, Owner: trader,
		}, true)
		tx, err := solana.NewTransaction([]solana.Instruction{swap}, solana.Hash{}, solana.TransactionPayer(trader))
		require.NoError(t, err)
		assert.Equal(t, 0, f.tracker.ProcessTransaction(1, 0, tx))
		assert.Equal(t, 1.0, f.counters(t)["swaps_skipped_total{"+SkipUnknownPool+"}"])
	})
}

func TestTracker_LargeSwap(t *testing.T) {
	f := newFixture(t, Config{LargeSwapThreshold: 10_000_000_000})
	coinATA, pcATA := ata(t, tokenMint), ata(t, amm.WSOL)

	small := swapTx(t, &amm.SwapBaseIn{AmountIn: 1_000_000_000}, pcATA, coinATA, true)
	large := swapTx(t, &amm.SwapBaseIn{AmountIn: 20_000_000_000}, pcATA, coinATA, true)
	require.Equal(t, 1, f.tracker.ProcessTransaction(5, 0, small))
	require.Equal(t, 1, f.tracker.ProcessTransaction(5, 1, large))

	require.Len(t, f.sink.swaps, 2)
	assert.False(t, f.sink.swaps[0].Large)
	assert.True(t, f.sink.swaps[1].Large)
	assert.Greater(t, f.sink.swaps[1].PriceAfter, f.sink.swaps[1].PriceBefore)
	assert.Equal(t, 1.0, f.counters(t)["large_swaps_total"])
}

func TestTracker_Initialize2ResetsReserves(t *testing.T) {
	f := newFixture(t, Config{})
	init := amm.NewInitializeInstruction(
		&amm.Initialize2{InitCoinAmount: 206_900_000_000_000, InitPcAmount: 79_005_359_083},
		amm.InitAccounts{Amm: poolAddr, CoinMint: tokenMint, PcMint: amm.WSOL, CoinVault: coinVault, PcVault: pcVault, Creator: trader},
	)
	tx, err := solana.NewTransaction([]solana.Instruction{init}, solana.Hash{}, solana.TransactionPayer(trader))
	require.NoError(t, err)

	assert.Equal(t, 1, f.tracker.ProcessTransaction(20, 0, tx))
	assert.Equal(t, amm.Reserves{Coin: 206_900_000_000_000, Pc: 79_005_359_083}, f.reserves(t))
	assert.Empty(t, f.sink.graduates)
}

func TestTracker_DetectsGraduates(t *testing.T) {
	f := newFixture(t, Config{DetectGraduates: true, SkipApply: true})
	newPool, newMint := key(120), key(121)
	init := amm.NewInitializeInstruction(
		&amm.Initialize2{InitCoinAmount: 206_900_000_000_000, InitPcAmount: 79_005_359_083},
		amm.InitAccounts{Amm: newPool, CoinMint: newMint, PcMint: amm.WSOL, CoinVault: key(122), PcVault: key(123), Creator: amm.PumpMigrationAccount},
	)
	tx, err := solana.NewTransaction([]solana.Instruction{init}, solana.Hash{}, solana.TransactionPayer(amm.PumpMigrationAccount))
	require.NoError(t, err)

	// a plain swap is not a graduation
	swap := swapTx(t, &amm.SwapBaseIn{AmountIn: 5}, ata(t, tokenMint), ata(t, amm.WSOL), true)
	f.tracker.ProcessTransaction(30, 0, swap)
	f.tracker.ProcessTransaction(30, 1, tx)

	require.Len(t, f.sink.graduates, 1)
	g := f.sink.graduates[0]
	assert.Equal(t, tx.Signatures[0].String(), g.Signature)
	assert.Equal(t, uint64(30), g.Slot)
	assert.Equal(t, newPool, g.Pool)
	assert.Equal(t, newMint, g.CoinMint)
	assert.Equal(t, uint64(206_900_000_000_000), g.InitCoinAmount)
	assert.Equal(t, 1.0, f.counters(t)["graduates_detected_total"])

	// detection only: reserves are never touched
	assert.Empty(t, f.sink.swaps)
	assert.Equal(t, testPool().Reserves, f.reserves(t))
}

func TestRegistry(t *testing.T) {
	other := testPool()
	other.Address = key(9)
	other.CoinMint = key(10)
	other.Fee = amm.Fee{}

	r := NewRegistry(testPool(), other)
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Add(testPool()))
	assert.Len(t, r.ByMint(amm.WSOL), 2)
	assert.Len(t, r.ByMint(tokenMint), 1)
	assert.Empty(t, r.ByMint(key(33)))

	s, ok := r.Get(key(9))
	require.True(t, ok)
	assert.Equal(t, amm.DefaultFee, s.Keys().Fee)
	assert.Zero(t, s.Keys().Reserves)

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Less(t, snaps[0].Address.String(), snaps[1].Address.String())
	assert.InDelta(t, 100.0/1_000_000, snaps[0].Price, 1e-12)
}

func TestOrderingKey(t *testing.T) {
	a := OrderingKey{Slot: 10, TxIndex: TxIndex(0, 3)}
	b := OrderingKey{Slot: 10, TxIndex: TxIndex(1, 0)}
	c := OrderingKey{Slot: 11}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, c.Compare(b))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, a.Compare(OrderingKey{Slot: 10, TxIndex: a.TxIndex, Instruction: 1}))
	assert.Equal(t, "10/3/0", a.String())
}
