package solver

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
)

// StrategyFn is a frozen distribution source used by the exploitability
// estimate: for a player it returns weights over the current candidate set.
type StrategyFn func(p game.Player) ([]float64, error)

// NashConvReport summarizes one exploitability estimate. Gap is the sum
// over players of (best mean action utility − expected utility of the
// frozen strategy); each term is non-negative by construction. Purely a
// solution-quality diagnostic; it feeds nothing back into the solve.
type NashConvReport struct {
	Gap     float64
	Value   map[game.Player]float64
	Best    map[game.Player]float64
	Actions map[game.Player][]float64
}

// ComputeNashConv estimates the exploitability of a frozen strategy profile
// by repeated best-response trials: sample a joint profile from the frozen
// distributions, build the same per-player counterfactual batch as the
// round loop, and accumulate per-action mean utilities. Oracle calls go
// straight to the solver's oracle, bypassing any per-solve round cache.
func (s *Solver) ComputeNashConv(ctx context.Context, state *SearchState, strat StrategyFn, trials int) (NashConvReport, error) {
	if trials <= 0 {
		return NashConvReport{}, fmt.Errorf("solver: nash conv requires positive trial count")
	}
	total := 0
	for _, p := range state.Players() {
		total += state.NumCandidates(p)
	}
	if total == 0 {
		return NashConvReport{}, fmt.Errorf("solver: nash conv on empty candidate sets")
	}

	weights := make(map[game.Player][]float64, len(state.Players()))
	for _, p := range state.Players() {
		if state.NumCandidates(p) == 0 {
			continue
		}
		w, err := strat(p)
		if err != nil {
			return NashConvReport{}, err
		}
		weights[p] = w
	}

	sums := make(map[game.Player][]float64, len(weights))
	for p := range weights {
		sums[p] = make([]float64, state.NumCandidates(p))
	}

	for trial := 0; trial < trials; trial++ {
		if err := ctx.Err(); err != nil {
			return NashConvReport{}, err
		}
		sampled := s.sampleProfile(state, weights)
		batch := buildBatch(state, sampled)

		results, err := s.oracle.Evaluate(ctx, batch)
		if err != nil {
			return NashConvReport{}, fmt.Errorf("solver: nash conv trial %d: %w", trial, err)
		}
		if err := rollout.CheckBatch(batch, results); err != nil {
			return NashConvReport{}, fmt.Errorf("solver: nash conv trial %d: %w", trial, err)
		}

		offset := 0
		for _, p := range state.Players() {
			n := state.NumCandidates(p)
			if n == 0 {
				continue
			}
			for k, r := range results[offset : offset+n] {
				sums[p][k] += r.Utility[p]
			}
			offset += n
		}
	}

	report := NashConvReport{
		Value:   make(map[game.Player]float64, len(weights)),
		Best:    make(map[game.Player]float64, len(weights)),
		Actions: make(map[game.Player][]float64, len(weights)),
	}
	for p, sum := range sums {
		means := make([]float64, len(sum))
		for i, v := range sum {
			means[i] = v / float64(trials)
		}
		best := floats.Max(means)
		value := floats.Dot(weights[p], means)
		report.Actions[p] = means
		report.Best[p] = best
		report.Value[p] = value
		report.Gap += best - value
	}
	return report, nil
}

// logNashConv runs an exploitability estimate and emits its structured log
// records under the given label.
func (s *Solver) logNashConv(ctx context.Context, state *SearchState, label string, strat StrategyFn) error {
	report, err := s.ComputeNashConv(ctx, state, strat, s.params.NashConvTrials)
	if err != nil {
		return err
	}
	for _, p := range state.Players() {
		value, ok := report.Value[p]
		if !ok {
			continue
		}
		s.logger.Info().
			Str("label", label).
			Str("player", string(p)).
			Float64("value", value).
			Float64("bestResponse", report.Best[p]).
			Float64("gap", report.Best[p]-value).
			Msg("nash conv player")
	}
	s.logger.Info().Str("label", label).Float64("gap", report.Gap).Msg("nash conv")
	return nil
}
