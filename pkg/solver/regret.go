package solver

import (
	"gonum.org/v1/gonum/floats"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// stateUtility computes the regret baseline for one round: the dot product
// of the player's chosen-distribution weights and the per-action utilities.
func stateUtility(weights, utilities []float64) float64 {
	return floats.Dot(weights, utilities)
}

// integrate applies one round's observed per-action utilities for player p.
// utilities is the oracle's estimate for each live candidate in candidate
// order; stateUtil is the dot product of the round's sampling distribution
// with utilities, computed by the caller. The cumulative strategy always
// accumulates the regret-matched current strategy as of the start of the
// round (uniform before the first update), regardless of which
// distribution the round actually sampled from.
//
// All accumulators are unbounded-growth float64 sums discounted
// multiplicatively each round; lower-precision types drift over hundreds
// of rounds.
func (s *SearchState) integrate(p game.Player, utilities []float64, stateUtil float64, optimistic bool) {
	t := s.tables[p]
	if t == nil || t.liveCount == 0 {
		return
	}

	uniform := 1.0 / float64(t.liveCount)
	live := t.liveIndices()
	for k, i := range live {
		regret := utilities[k] - stateUtil
		t.cumRegret[i] += regret
		t.lastRegret[i] = regret
		// curStrategy still holds the start-of-round value here;
		// regretMatch below overwrites it.
		if t.hasCurrent {
			t.cumStrategy[i] += t.curStrategy[i]
		} else {
			t.cumStrategy[i] += uniform
		}
	}
	t.cumUtility += stateUtil

	s.regretMatch(t, optimistic)
}

// regretMatch recomputes the current strategy from the positive part of
// accumulated regret; the optimistic variant adds the last round's regret
// before clipping, which counts the freshest observation double. A zero
// positive-regret sum falls back to uniform.
func (s *SearchState) regretMatch(t *playerTable, optimistic bool) {
	sum := 0.0
	for i, ok := range t.alive {
		if !ok {
			t.curStrategy[i] = 0
			continue
		}
		r := t.cumRegret[i]
		if optimistic {
			r += t.lastRegret[i]
		}
		if r < 0 {
			r = 0
		}
		t.curStrategy[i] = r
		sum += r
	}

	if sum == 0 {
		u := 1.0 / float64(t.liveCount)
		for i, ok := range t.alive {
			if ok {
				t.curStrategy[i] = u
			}
		}
	} else {
		for i, ok := range t.alive {
			if ok {
				t.curStrategy[i] /= sum
			}
		}
	}
	t.hasCurrent = true
}
