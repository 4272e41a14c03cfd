package engine

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/tracker"
)

// quote is the outcome of routing one input amount through a cycle.
type quote struct {
	amountIn  uint64
	amountOut uint64
	legs      []uint64
}

// profit returns out - in, or zero when the route loses.
func (q quote) profit() uint64 {
	if q.amountOut <= q.amountIn {
		return 0
	}
	return q.amountOut - q.amountIn
}

// simulate routes amountIn through hops against the given reserves. Every
// leg credits its input reserve, so a route whose reserves would leave the
// u64 domain fails with amm.ErrOverflow.
func simulate(hops []hop, reserves []amm.Reserves, amountIn uint64) (quote, error) {
	q := quote{amountIn: amountIn, legs: make([]uint64, len(hops))}
	amount := amountIn
	for i, h := range hops {
		_, out, err := amm.ApplySwapBaseIn(reserves[i], h.dir, amount, h.pool.Fee)
		if err != nil {
			return quote{}, err
		}
		q.legs[i] = out
		amount = out
	}
	q.amountOut = amount
	return q, nil
}

// score orders quotes by profit without leaving the integer domain:
// out + (bound - in) is profit shifted by a constant.
func score(q quote, bound uint64) *uint256.Int {
	s := uint256.NewInt(q.amountOut)
	return s.Add(s, uint256.NewInt(bound-q.amountIn))
}

var errNoRoute = errors.New("route has no liquidity")

// search finds the input amount maximising profit on a cycle with a
// ternary search over [1, bound], where bound is the first leg's input
// reserve. Profit along a constant-product route is unimodal in the input.
// Any overflow aborts the search.
func search(hops []hop, reserves []amm.Reserves, maxIterations int) (quote, error) {
	bound, _ := reserves[0].Split(hops[0].dir)
	if bound == 0 {
		return quote{}, errNoRoute
	}
	eval := func(x uint64) (quote, error) { return simulate(hops, reserves, x) }

	lo, hi := uint64(1), bound
	for i := 0; i < maxIterations && hi-lo > 2; i++ {
		third := (hi - lo) / 3
		m1, m2 := lo+third, hi-third
		q1, err := eval(m1)
		if err != nil {
			return quote{}, err
		}
		q2, err := eval(m2)
		if err != nil {
			return quote{}, err
		}
		if score(q1, bound).Lt(score(q2, bound)) {
			lo = m1 + 1
		} else {
			hi = m2
		}
	}

	candidates := []uint64{lo, lo + (hi-lo)/2, hi}
	if hi-lo <= 2 {
		candidates = candidates[:0]
		for d := uint64(0); d <= hi-lo; d++ {
			candidates = append(candidates, lo+d)
		}
	}
	var best quote
	for i, x := range candidates {
		q, err := eval(x)
		if err != nil {
			return quote{}, err
		}
		if i == 0 || score(best, bound).Lt(score(q, bound)) {
			best = q
		}
	}
	return best, nil
}

// snapshot copies the reserves of every pool on the cycle and the newest
// ordering key among them.
func snapshot(c cycle) ([]amm.Reserves, tracker.OrderingKey) {
	reserves := make([]amm.Reserves, len(c.hops))
	var newest tracker.OrderingKey
	for i, h := range c.hops {
		s := h.state.Snapshot()
		reserves[i] = s.Reserves
		if s.LastApplied.Compare(newest) > 0 {
			newest = s.LastApplied
		}
	}
	return reserves, newest
}
