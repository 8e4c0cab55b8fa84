// Package solver computes per-player probability distributions over
// restricted candidate action sets for a simultaneous-move game position,
// approximating a Nash equilibrium by iterated regret minimization against
// an external rollout oracle. It provides the full discounted-CFR loop
// (Solver.Solve) and a simplified best-response fictitious-play variant
// (Solver.SolveFictitious) built on the same state tables.
package solver

import (
	"fmt"
	"math"
	"sort"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// playerTable holds one player's per-action accumulators. Every slice is
// indexed by the stable action index assigned at construction; pruning
// clears the alive mask but never shifts indices, so "missing" is an
// explicit masked-out state rather than implicit map behavior.
type playerTable struct {
	player  game.Player
	actions []game.Action

	alive     []bool
	liveCount int

	// bpWeight = exp(log-prior), fixed at construction, strictly positive
	// for any action the generator proposed.
	bpWeight []float64

	cumRegret   []float64
	lastRegret  []float64
	cumStrategy []float64

	// curStrategy is the regret-matched strategy produced by the last
	// integrate step; before the first update every view falls back to
	// uniform over the live set.
	curStrategy []float64
	hasCurrent  bool

	cumUtility float64
}

// liveIndices returns the indices of live actions, in construction order.
func (t *playerTable) liveIndices() []int {
	idx := make([]int, 0, t.liveCount)
	for i, ok := range t.alive {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// liveActions returns the live candidate actions, in construction order.
func (t *playerTable) liveActions() []game.Action {
	out := make([]game.Action, 0, t.liveCount)
	for i, ok := range t.alive {
		if ok {
			out = append(out, t.actions[i])
		}
	}
	return out
}

// SearchState holds the mutable numeric tables for one solve. It is created
// fresh per position, mutated by exactly one round loop, and discarded once
// the final distribution is extracted. It carries no cross-solve state and
// needs no locking.
type SearchState struct {
	players []game.Player
	tables  map[game.Player]*playerTable

	// iterWeight is the normalization denominator for average quantities
	// under the linear discount schedule.
	iterWeight float64
}

// NewSearchState seeds the tables from a candidate generator's output:
// per-player actions with unnormalized log-priors. players fixes the
// canonical iteration order; actions are stored sorted so the batch layout
// is deterministic for identical inputs.
func NewSearchState(players []game.Player, candidates map[game.Player]game.ScoredActions) (*SearchState, error) {
	if len(players) == 0 {
		return nil, fmt.Errorf("solver: empty player set")
	}
	s := &SearchState{
		players: append([]game.Player(nil), players...),
		tables:  make(map[game.Player]*playerTable, len(players)),
	}
	for _, p := range players {
		scored := candidates[p]
		actions := make([]game.Action, 0, len(scored))
		for a := range scored {
			actions = append(actions, a)
		}
		sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })

		t := &playerTable{
			player:      p,
			actions:     actions,
			alive:       make([]bool, len(actions)),
			liveCount:   len(actions),
			bpWeight:    make([]float64, len(actions)),
			cumRegret:   make([]float64, len(actions)),
			lastRegret:  make([]float64, len(actions)),
			cumStrategy: make([]float64, len(actions)),
			curStrategy: make([]float64, len(actions)),
		}
		for i, a := range actions {
			t.alive[i] = true
			t.bpWeight[i] = math.Exp(scored[a])
		}
		s.tables[p] = t
	}
	return s, nil
}

// Players returns the player set in canonical order.
func (s *SearchState) Players() []game.Player { return s.players }

// Candidates returns the player's current (possibly pruned) candidate set,
// order preserved.
func (s *SearchState) Candidates(p game.Player) []game.Action {
	t := s.tables[p]
	if t == nil {
		return nil
	}
	return t.liveActions()
}

// NumCandidates returns the size of the player's current candidate set.
func (s *SearchState) NumCandidates(p game.Player) int {
	t := s.tables[p]
	if t == nil {
		return 0
	}
	return t.liveCount
}

// IterWeight returns the current average-quantity normalization weight.
func (s *SearchState) IterWeight() float64 { return s.iterWeight }

// discountEpsilon keeps the round-0 discount factor positive (≈1e-6 rather
// than 0) so iterWeight never collapses to a zero denominator. Preserved
// exactly; the loser-bailout floor comparison is sensitive to it.
const discountEpsilon = 1e-6

// discount applies the linear-CFR schedule for round t: all accumulators
// are scaled by d = (t+ε)/(t+1) and the iteration weight advances to
// iterWeight*d + 1. Scaling shrinks magnitude but never resets sign.
func (s *SearchState) discount(round int) {
	d := (float64(round) + discountEpsilon) / (float64(round) + 1)
	for _, p := range s.players {
		t := s.tables[p]
		if t.liveCount == 0 {
			continue
		}
		t.cumUtility *= d
		for i, ok := range t.alive {
			if !ok {
				continue
			}
			t.cumRegret[i] *= d
			t.cumStrategy[i] *= d
		}
	}
	s.iterWeight = s.iterWeight*d + 1.0
}

// AvgUtility returns the player's discounted average state utility.
func (s *SearchState) AvgUtility(p game.Player) float64 {
	if s.iterWeight == 0 {
		return 0
	}
	return s.tables[p].cumUtility / s.iterWeight
}
