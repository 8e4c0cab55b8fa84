package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// ErrZeroBlueprint reports a blueprint-weight normalization sum of zero for
// a non-empty candidate set. The prior is corrupt; this is a fatal
// precondition violation, never papered over with a uniform fallback.
var ErrZeroBlueprint = fmt.Errorf("solver: blueprint weights sum to zero for non-empty candidate set")

// Current returns the regret-matched strategy over the player's live
// candidate set. Before the first integrate step (all positive regrets
// zero) it is uniform. Returns nil for an empty candidate set; callers
// must special-case empty sets rather than sample from this.
func (s *SearchState) Current(p game.Player) []float64 {
	t := s.tables[p]
	if t == nil || t.liveCount == 0 {
		return nil
	}
	out := make([]float64, 0, t.liveCount)
	if !t.hasCurrent {
		u := 1.0 / float64(t.liveCount)
		for range t.liveCount {
			out = append(out, u)
		}
		return out
	}
	for i, ok := range t.alive {
		if ok {
			out = append(out, t.curStrategy[i])
		}
	}
	return out
}

// Average returns the time-weighted average strategy: cumStrategy
// normalized over the live candidate set, uniform when the sum is zero
// (round zero, or a fully discounted table).
func (s *SearchState) Average(p game.Player) []float64 {
	t := s.tables[p]
	if t == nil || t.liveCount == 0 {
		return nil
	}
	out := make([]float64, 0, t.liveCount)
	for i, ok := range t.alive {
		if ok {
			out = append(out, t.cumStrategy[i])
		}
	}
	sum := floats.Sum(out)
	if sum == 0 {
		u := 1.0 / float64(t.liveCount)
		for i := range out {
			out[i] = u
		}
		return out
	}
	floats.Scale(1/sum, out)
	return out
}

// Blueprint returns the temperature-scaled prior over the live candidate
// set: each weight raised to 1/temperature and renormalized. temperature 1
// reproduces the raw prior; lower temperatures sharpen toward its mode.
// A zero normalizing sum with a non-empty set is ErrZeroBlueprint.
func (s *SearchState) Blueprint(p game.Player, temperature float64) ([]float64, error) {
	t := s.tables[p]
	if t == nil || t.liveCount == 0 {
		return nil, nil
	}
	out := make([]float64, 0, t.liveCount)
	for i, ok := range t.alive {
		if ok {
			out = append(out, math.Pow(t.bpWeight[i], 1.0/temperature))
		}
	}
	sum := floats.Sum(out)
	if sum <= 0 {
		return nil, fmt.Errorf("%w: player %s", ErrZeroBlueprint, p)
	}
	floats.Scale(1/sum, out)
	return out, nil
}
