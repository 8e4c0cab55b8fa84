package solver

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
)

// ActionProb is one entry of a produced distribution.
type ActionProb struct {
	Action game.Action
	Prob   float64
}

// Distribution is a probability distribution over a player's final
// candidate set, sorted by descending probability. Degenerate results are a
// single entry with probability 1 (one candidate, or game.NoAction for an
// empty set).
type Distribution []ActionProb

// PointMass returns a degenerate single-action distribution.
func PointMass(a game.Action) Distribution {
	return Distribution{{Action: a, Prob: 1.0}}
}

// Solver drives regret-minimization solves against a rollout oracle. It is
// stateless across solves; each Solve call builds and discards its own
// SearchState, so distinct positions can be solved from distinct Solver
// values concurrently.
type Solver struct {
	params Params
	oracle rollout.Oracle
	rng    *rand.Rand
	logger zerolog.Logger
}

// Option configures a Solver.
type Option func(*Solver)

// WithLogger attaches a solve-scoped logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Solver) { s.logger = logger }
}

// WithRNG overrides the random source (tests).
func WithRNG(rng *rand.Rand) Option {
	return func(s *Solver) { s.rng = rng }
}

// New validates the params and builds a Solver around the given oracle.
func New(params Params, oracle rollout.Oracle, opts ...Option) (*Solver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, fmt.Errorf("solver: nil oracle")
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Solver{
		params: params,
		oracle: oracle,
		rng:    rand.New(rand.NewSource(seed)),
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// wrapCache applies the configured per-solve cache around the oracle.
// A fresh cache per solve: its lifetime is exactly the solve's.
func (s *Solver) wrapCache() (rollout.Oracle, func() rollout.Stats) {
	switch s.params.Cache {
	case CacheExact:
		c := rollout.NewExactCache(s.oracle)
		return c, c.Stats
	case CacheAveraging:
		c := rollout.NewAveragingCache(s.oracle, s.params.CacheMinCount)
		return c, c.Stats
	default:
		return s.oracle, func() rollout.Stats { return rollout.Stats{} }
	}
}

// Solve runs the full regret-minimization loop and returns the distribution
// for the focus player. See SolveAll for the loop; the focus player enables
// the degenerate early exits.
func (s *Solver) Solve(ctx context.Context, players []game.Player, candidates map[game.Player]game.ScoredActions, focus game.Player) (Distribution, error) {
	all, err := s.SolveAll(ctx, players, candidates, focus)
	if err != nil {
		return nil, err
	}
	return all[focus], nil
}

// SolveAll runs the round loop and returns a distribution per player. When
// focus is non-empty and its candidate set has zero or one entries, the
// loop is skipped entirely: no oracle calls, a degenerate distribution for
// the focus player only.
//
// The loop is strictly sequential across rounds; cancelling the context
// aborts the solve whole, discarding the partially updated state.
func (s *Solver) SolveAll(ctx context.Context, players []game.Player, candidates map[game.Player]game.ScoredActions, focus game.Player) (map[game.Player]Distribution, error) {
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

	oracle, cacheStats := s.wrapCache()

	if s.params.NashConv {
		for _, temperature := range []float64{1.0, 0.5, 0.1, 0.01} {
			err := s.logNashConv(ctx, state, fmt.Sprintf("blueprint T=%v", temperature), func(p game.Player) ([]float64, error) {
				return state.Blueprint(p, temperature)
			})
			if err != nil {
				return nil, err
			}
		}
	}

	rounds := s.params.Rounds
	isLoser := make(map[game.Player]bool, len(players))

	for t := 0; t < rounds; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("solver: aborted on round %d: %w", t, err)
		}
		verbose := t&(t+1) == 0 || t == rounds-1

		if s.params.Pruning {
			state.maybePrune(t, rounds, s.logger)
		}
		state.discount(t)

		// Choose each player's sampling distribution for the round:
		// blueprint during warmup, with probability bpProb, or when the
		// player is flagged a loser; regret-matched current otherwise.
		weights := make(map[game.Player][]float64, len(players))
		for _, p := range state.Players() {
			isLoser[p] = state.isLoser(p, t, s.params.LoserBPIter, s.params.LoserBPValue)
			if t < s.params.BPIters || s.rng.Float64() < s.params.BPProb || isLoser[p] {
				bp, err := state.Blueprint(p, 1.0)
				if err != nil {
					return nil, err
				}
				weights[p] = bp
			} else {
				weights[p] = state.Current(p)
			}
		}

		sampled := s.sampleProfile(state, weights)
		batch := buildBatch(state, sampled)

		results, err := oracle.Evaluate(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("solver: round %d rollout: %w", t, err)
		}
		if err := rollout.CheckBatch(batch, results); err != nil {
			return nil, fmt.Errorf("solver: round %d: %w", t, err)
		}

		// Slice the response back per player, by candidate-list length and
		// in the same canonical order the batch was built in.
		offset := 0
		for _, p := range state.Players() {
			n := state.NumCandidates(p)
			if n == 0 {
				continue
			}
			utilities := make([]float64, n)
			for k, r := range results[offset : offset+n] {
				utilities[k] = r.Utility[p]
			}
			offset += n

			stateUtil := stateUtility(weights[p], utilities)
			if verbose {
				s.logCheckpoint(state, p, t, rounds, stateUtil, utilities, isLoser[p])
			}
			state.integrate(p, utilities, stateUtil, s.params.OptimisticRegret)
		}

		if verbose {
			if s.params.Cache != CacheNone {
				s.logger.Info().Int("round", t).Stringer("stats", cacheStats()).Msg("rollout cache")
			}
			if s.params.NashConv {
				err := s.logNashConv(ctx, state, fmt.Sprintf("round %d", t), func(p game.Player) ([]float64, error) {
					return state.Average(p), nil
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}

	return s.finalize(state, isLoser, focus), nil
}

// sampleProfile draws one action per player from its chosen distribution.
// Players with empty candidate sets issue no action and are absent from
// the profile.
func (s *Solver) sampleProfile(state *SearchState, weights map[game.Player][]float64) game.Profile {
	profile := make(game.Profile, len(state.Players()))
	for _, p := range state.Players() {
		actions := state.Candidates(p)
		if len(actions) == 0 {
			continue
		}
		profile[p] = actions[weightedSample(weights[p], s.rng)]
	}
	return profile
}

// buildBatch constructs the counterfactual request: for every player with
// candidates, one profile per candidate, equal to the sampled profile
// except that player plays the candidate. Grouped by player in canonical
// order, candidates in set order. The response is sliced back positionally,
// so this layout is load-bearing.
func buildBatch(state *SearchState, sampled game.Profile) []game.Profile {
	var batch []game.Profile
	for _, p := range state.Players() {
		for _, a := range state.Candidates(p) {
			profile := sampled.Clone()
			profile[p] = a
			batch = append(batch, profile)
		}
	}
	return batch
}

// finalize extracts the produced distribution per player: blueprint for
// losers, else the final iterate or the average strategy per config.
func (s *Solver) finalize(state *SearchState, isLoser map[game.Player]bool, focus game.Player) map[game.Player]Distribution {
	out := make(map[game.Player]Distribution, len(state.Players()))
	for _, p := range state.Players() {
		actions := state.Candidates(p)
		if len(actions) == 0 {
			out[p] = nil
			continue
		}

		var probs []float64
		switch {
		case isLoser[p]:
			// Blueprint weights were validated on every bailout round.
			probs, _ = state.Blueprint(p, 1.0)
		case s.params.UseFinalIter:
			probs = state.Current(p)
		default:
			probs = state.Average(p)
		}

		dist := make(Distribution, len(actions))
		for i, a := range actions {
			dist[i] = ActionProb{Action: a, Prob: probs[i]}
		}
		sort.SliceStable(dist, func(i, j int) bool { return dist[i].Prob > dist[j].Prob })
		out[p] = dist

		if p == focus {
			s.logger.Info().
				Str("player", string(p)).
				Interface("distribution", dist).
				Msg("final strategy")
		}
	}
	return out
}

// logCheckpoint emits the per-action telemetry record for a checkpoint
// round, sorted by descending average-strategy weight.
func (s *Solver) logCheckpoint(state *SearchState, p game.Player, round, rounds int, stateUtility float64, utilities []float64, loser bool) {
	actions := state.Candidates(p)
	current := state.Current(p)
	average := state.Average(p)
	blueprint, err := state.Blueprint(p, 1.0)
	if err != nil {
		blueprint = make([]float64, len(actions))
	}

	t := state.tables[p]
	live := t.liveIndices()

	s.logger.Info().
		Int("round", round+1).
		Int("rounds", rounds).
		Str("player", string(p)).
		Float64("avgUtility", state.AvgUtility(p)).
		Float64("curUtility", stateUtility).
		Bool("loser", loser).
		Msg("checkpoint")

	order := make([]int, len(actions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return average[order[a]] > average[order[b]] })

	for _, k := range order {
		i := live[k]
		s.logger.Info().
			Str("player", string(p)).
			Str("action", string(actions[k])).
			Float64("prob", current[k]).
			Float64("avgProb", average[k]).
			Float64("bpProb", blueprint[k]).
			Float64("avgUtility", (t.cumRegret[i]+t.cumUtility)/state.iterWeight).
			Float64("curUtility", utilities[k]).
			Msg("checkpoint action")
	}
}

// weightedSample selects an index from a probability distribution.
func weightedSample(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}
