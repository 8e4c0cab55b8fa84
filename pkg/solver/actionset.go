package solver

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// Pruning thresholds. Two fixed checkpoints only: after roughly a quarter
// of the rounds with the looser bound, after roughly half with the
// stricter one.
const (
	firstPruneRegretThresh  = -0.06
	firstPruneStratThresh   = 0.002
	secondPruneRegretThresh = -0.03
	secondPruneStratThresh  = 0.001
)

// maybePrune runs the pruning checkpoints for round t of totalRounds.
func (s *SearchState) maybePrune(t, totalRounds int, logger zerolog.Logger) {
	if t == 1+totalRounds/4 {
		s.pruneActions(t, firstPruneRegretThresh, firstPruneStratThresh, logger)
	}
	if t == 1+totalRounds/2 {
		s.pruneActions(t, secondPruneRegretThresh, secondPruneStratThresh, logger)
	}
}

// pruneActions permanently drops dominated candidates: actions whose
// average regret sits below the regret threshold, whose average strategy
// share is below the strategy threshold, and whose current strategy weight
// is exactly zero. Candidates are visited in ascending average-regret
// order; removal clears the alive mask and the cumulative strategy entry,
// so every strategy view reports 0 for the action from here on. A removed
// action never returns within the solve.
func (s *SearchState) pruneActions(round int, regretThresh, stratThresh float64, logger zerolog.Logger) {
	for _, p := range s.players {
		t := s.tables[p]

		type ranked struct {
			idx       int
			avgRegret float64
		}
		order := make([]ranked, 0, t.liveCount)
		for _, i := range t.liveIndices() {
			order = append(order, ranked{idx: i, avgRegret: t.cumRegret[i] / s.iterWeight})
		}
		sort.Slice(order, func(a, b int) bool { return order[a].avgRegret < order[b].avgRegret })

		for _, r := range order {
			avgStrat := t.cumStrategy[r.idx] / s.iterWeight
			if r.avgRegret < regretThresh && avgStrat < stratThresh && t.curStrategy[r.idx] == 0 {
				t.cumStrategy[r.idx] = 0
				t.alive[r.idx] = false
				t.liveCount--
				logger.Info().
					Int("round", round).
					Str("player", string(p)).
					Str("action", string(t.actions[r.idx])).
					Float64("avgRegret", r.avgRegret).
					Float64("avgStrategy", avgStrat).
					Msg("pruned action")
			}
		}
	}
}

// capCandidates truncates each player's candidate set to the limit highest
// log-prior actions. Ties break lexicographically so the cut is
// deterministic. A limit <= 0 disables the cap.
func capCandidates(candidates map[game.Player]game.ScoredActions, limit int) map[game.Player]game.ScoredActions {
	if limit <= 0 {
		return candidates
	}
	out := make(map[game.Player]game.ScoredActions, len(candidates))
	for p, scored := range candidates {
		if len(scored) <= limit {
			out[p] = scored
			continue
		}
		actions := make([]game.Action, 0, len(scored))
		for a := range scored {
			actions = append(actions, a)
		}
		sort.Slice(actions, func(i, j int) bool {
			if scored[actions[i]] != scored[actions[j]] {
				return scored[actions[i]] > scored[actions[j]]
			}
			return actions[i] < actions[j]
		})
		kept := make(game.ScoredActions, limit)
		for _, a := range actions[:limit] {
			kept[a] = scored[a]
		}
		out[p] = kept
	}
	return out
}

// isLoser reports whether the player looks hopeless on round t: from
// loserBPIter onward, every live action's discounted regret-adjusted
// utility sits at or below the floor. A non-positive floor disables the
// check entirely. Losing players are forced onto blueprint play.
func (s *SearchState) isLoser(p game.Player, round, loserBPIter int, floor float64) bool {
	if round < loserBPIter || floor <= 0 {
		return false
	}
	t := s.tables[p]
	for _, i := range t.liveIndices() {
		if (t.cumRegret[i]+t.cumUtility)/s.iterWeight > floor {
			return false
		}
	}
	return true
}
