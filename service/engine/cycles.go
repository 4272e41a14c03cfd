package engine

import (
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/tracker"
)

// hop is one pool traded in a fixed direction.
type hop struct {
	state *tracker.PoolState
	pool  tracker.Pool
	dir   amm.Direction
	in    solana.PublicKey
	out   solana.PublicKey
}

// cycle is a closed route that starts and ends at base.
type cycle struct {
	base solana.PublicKey
	hops []hop
}

func newHop(s *tracker.PoolState, p tracker.Pool, in solana.PublicKey) (hop, bool) {
	out, ok := p.Other(in)
	if !ok {
		return hop{}, false
	}
	dir, _ := p.DirectionFrom(in)
	return hop{state: s, pool: p, dir: dir, in: in, out: out}, true
}

type poolSet map[solana.PublicKey]struct{}

func (s poolSet) with(addr solana.PublicKey) poolSet {
	out := make(poolSet, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	out[addr] = struct{}{}
	return out
}

// paths returns every route of exactly n hops from mint from to mint to that
// avoids the pools in used and never passes through avoid in between.
func paths(reg *tracker.Registry, from, to, avoid solana.PublicKey, n int, used poolSet) [][]hop {
	if n == 0 {
		if from.Equals(to) {
			return [][]hop{nil}
		}
		return nil
	}
	var out [][]hop
	for _, s := range reg.ByMint(from) {
		p := s.Keys()
		if _, ok := used[p.Address]; ok {
			continue
		}
		h, ok := newHop(s, p, from)
		if !ok {
			continue
		}
		if n > 1 && (h.out.Equals(avoid) || h.out.Equals(to)) {
			continue
		}
		if n == 1 && !h.out.Equals(to) {
			continue
		}
		for _, rest := range paths(reg, h.out, to, avoid, n-1, used.with(p.Address)) {
			out = append(out, append([]hop{h}, rest...))
		}
	}
	return out
}

// cyclesThrough enumerates the cycles of 2 to maxHops pools from each base
// mint that trade the pool at addr exactly once, in either direction.
func cyclesThrough(reg *tracker.Registry, addr solana.PublicKey, bases []solana.PublicKey, maxHops int) []cycle {
	state, ok := reg.Get(addr)
	if !ok {
		return nil
	}
	pool := state.Keys()
	used := poolSet{addr: {}}

	var out []cycle
	for _, base := range bases {
		for _, from := range []solana.PublicKey{pool.CoinMint, pool.PcMint} {
			mid, ok := newHop(state, pool, from)
			if !ok {
				continue
			}
			for length := 2; length <= maxHops; length++ {
				for before := 0; before < length; before++ {
					after := length - 1 - before
					// the pool's own mints may only be the base at the cycle ends
					if before > 0 && mid.in.Equals(base) || after > 0 && mid.out.Equals(base) {
						continue
					}
					for _, prefix := range paths(reg, base, mid.in, base, before, used) {
						exclude := used
						for _, h := range prefix {
							exclude = exclude.with(h.pool.Address)
						}
						for _, suffix := range paths(reg, mid.out, base, base, after, exclude) {
							hops := make([]hop, 0, length)
							hops = append(hops, prefix...)
							hops = append(hops, mid)
							hops = append(hops, suffix...)
							out = append(out, cycle{base: base, hops: hops})
						}
					}
				}
			}
		}
	}
	return out
}
