package solver

import (
	"context"
	"fmt"
	"sort"

	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
)

// SolveFictitious runs the simplified best-response fictitious-play loop on
// the same state tables as the full solve: each round every player either
// samples from the blueprint (during warmup or with probability bpProb) or
// plays the action with the highest cumulative utility so far, and the
// final distribution is each action's play count divided by the round
// count. No regret matching, discounting, pruning, or bailout.
//
// Requires bpIters > 0: without blueprint warmup the best-response loop
// locks onto the zero-initialized utility table.
func (s *Solver) SolveFictitious(ctx context.Context, players []game.Player, candidates map[game.Player]game.ScoredActions, focus game.Player) (map[game.Player]Distribution, error) {
	if s.params.BPIters <= 0 {
		return nil, fmt.Errorf("solver: fictitious play requires bpIters > 0")
	}

	state, err := NewSearchState(players, capCandidates(candidates, s.params.MaxCandidates))
	if err != nil {
		return nil, err
	}

	if focus != "" {
		switch state.NumCandidates(focus) {
		case 0:
			return map[game.Player]Distribution{focus: PointMass(game.NoAction)}, nil
		case 1:
			return map[game.Player]Distribution{focus: PointMass(state.Candidates(focus)[0])}, nil
		}
	}
	if s.params.Rounds == 0 {
		return nil, ErrZeroRounds
	}

	oracle, _ := s.wrapCache()

	// Per-action cumulative utility and play counts, indexed like the
	// candidate sets (fictitious play never prunes, so live order is
	// construction order throughout).
	actionUtil := make(map[game.Player][]float64, len(players))
	playCount := make(map[game.Player][]float64, len(players))
	for _, p := range state.Players() {
		n := state.NumCandidates(p)
		actionUtil[p] = make([]float64, n)
		playCount[p] = make([]float64, n)
	}

	rounds := s.params.Rounds
	for t := 0; t < rounds; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("solver: aborted on round %d: %w", t, err)
		}

		// Pick one action index per player: blueprint sample or the
		// best response to the utilities accumulated so far.
		sampled := make(game.Profile, len(state.Players()))
		useBlueprint := t < s.params.BPIters || s.rng.Float64() < s.params.BPProb
		for _, p := range state.Players() {
			actions := state.Candidates(p)
			if len(actions) == 0 {
				continue
			}
			var idx int
			if useBlueprint {
				bp, err := state.Blueprint(p, 1.0)
				if err != nil {
					return nil, err
				}
				idx = weightedSample(bp, s.rng)
			} else {
				idx = argmax(actionUtil[p])
			}
			sampled[p] = actions[idx]
			playCount[p][idx]++
		}

		batch := buildBatch(state, sampled)
		results, err := oracle.Evaluate(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("solver: round %d rollout: %w", t, err)
		}
		if err := rollout.CheckBatch(batch, results); err != nil {
			return nil, fmt.Errorf("solver: round %d: %w", t, err)
		}

		offset := 0
		for _, p := range state.Players() {
			n := state.NumCandidates(p)
			if n == 0 {
				continue
			}
			for k, r := range results[offset : offset+n] {
				actionUtil[p][k] += r.Utility[p]
			}
			offset += n
		}

		if t&(t+1) == 0 || t == rounds-1 {
			for _, p := range state.Players() {
				if a, ok := sampled[p]; ok {
					s.logger.Info().
						Int("round", t+1).
						Int("rounds", rounds).
						Str("player", string(p)).
						Str("action", string(a)).
						Msg("sampled orders")
				}
			}
		}
	}

	out := make(map[game.Player]Distribution, len(state.Players()))
	for _, p := range state.Players() {
		actions := state.Candidates(p)
		if len(actions) == 0 {
			out[p] = nil
			continue
		}
		dist := make(Distribution, len(actions))
		for i, a := range actions {
			dist[i] = ActionProb{Action: a, Prob: playCount[p][i] / float64(rounds)}
		}
		sort.SliceStable(dist, func(i, j int) bool { return dist[i].Prob > dist[j].Prob })
		out[p] = dist
	}
	return out, nil
}

// argmax returns the index of the largest value, first on ties.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
