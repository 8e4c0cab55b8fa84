package solver

import (
	"errors"
	"math"
	"testing"

	"github.com/freeeve/cfrsearch/pkg/game"
)

const probTolerance = 1e-6

func sumsToOne(t *testing.T, probs []float64, label string) {
	t.Helper()
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1.0) > probTolerance {
		t.Errorf("%s sums to %v, want 1", label, sum)
	}
}

func twoPlayerState(t *testing.T) *SearchState {
	t.Helper()
	state, err := NewSearchState(
		[]game.Player{"P1", "P2"},
		map[game.Player]game.ScoredActions{
			"P1": {"A": 0, "B": 0},
			"P2": {"A": math.Log(0.75), "B": math.Log(0.25)},
		},
	)
	if err != nil {
		t.Fatalf("NewSearchState: %v", err)
	}
	return state
}

// ---------------------------------------------------------------------------
// Current tests
// ---------------------------------------------------------------------------

func TestCurrent_UniformBeforeFirstUpdate(t *testing.T) {
	state := twoPlayerState(t)
	probs := state.Current("P1")
	if len(probs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(probs))
	}
	for i, p := range probs {
		if math.Abs(p-0.5) > probTolerance {
			t.Errorf("entry %d: expected uniform 0.5, got %v", i, p)
		}
	}
}

func TestCurrent_UniformOnZeroPositiveRegret(t *testing.T) {
	state := twoPlayerState(t)
	state.discount(0)
	// Equal utilities: every regret is zero, positive-regret sum is zero.
	state.integrate("P1", []float64{0.3, 0.3}, 0.3, true)
	probs := state.Current("P1")
	for i, p := range probs {
		if math.Abs(p-0.5) > probTolerance {
			t.Errorf("entry %d: expected uniform fallback, got %v", i, p)
		}
	}
}

func TestCurrent_EmptySetSignal(t *testing.T) {
	state, err := NewSearchState(
		[]game.Player{"P1"},
		map[game.Player]game.ScoredActions{"P1": {}},
	)
	if err != nil {
		t.Fatalf("NewSearchState: %v", err)
	}
	if probs := state.Current("P1"); probs != nil {
		t.Errorf("empty candidate set should return nil, got %v", probs)
	}
}

// ---------------------------------------------------------------------------
// Average tests
// ---------------------------------------------------------------------------

func TestAverage_UniformAtRoundZero(t *testing.T) {
	state := twoPlayerState(t)
	probs := state.Average("P1")
	sumsToOne(t, probs, "average")
	for i, p := range probs {
		if math.Abs(p-0.5) > probTolerance {
			t.Errorf("entry %d: expected uniform at round zero, got %v", i, p)
		}
	}
}

func TestAverage_NormalizesCumulativeStrategy(t *testing.T) {
	state := twoPlayerState(t)
	state.discount(0)
	// Action A gets all the utility; its strategy weight should dominate
	// the average after a few rounds.
	for round := 1; round <= 10; round++ {
		weights := state.Current("P1")
		state.integrate("P1", []float64{1, 0}, stateUtility(weights, []float64{1, 0}), true)
		state.discount(round)
	}
	probs := state.Average("P1")
	sumsToOne(t, probs, "average")
	if probs[0] <= probs[1] {
		t.Errorf("expected A to dominate the average: %v", probs)
	}
}

// ---------------------------------------------------------------------------
// Blueprint tests
// ---------------------------------------------------------------------------

func TestBlueprint_RawPriorAtTemperatureOne(t *testing.T) {
	state := twoPlayerState(t)
	probs, err := state.Blueprint("P2", 1.0)
	if err != nil {
		t.Fatalf("Blueprint: %v", err)
	}
	sumsToOne(t, probs, "blueprint")
	if math.Abs(probs[0]-0.75) > probTolerance || math.Abs(probs[1]-0.25) > probTolerance {
		t.Errorf("temperature 1 should reproduce the prior, got %v", probs)
	}
}

func TestBlueprint_LowTemperatureSharpens(t *testing.T) {
	state := twoPlayerState(t)
	raw, err := state.Blueprint("P2", 1.0)
	if err != nil {
		t.Fatalf("Blueprint: %v", err)
	}
	sharp, err := state.Blueprint("P2", 0.25)
	if err != nil {
		t.Fatalf("Blueprint: %v", err)
	}
	sumsToOne(t, sharp, "sharpened blueprint")
	if sharp[0] <= raw[0] {
		t.Errorf("temperature 0.25 should sharpen toward the mode: raw %v sharp %v", raw, sharp)
	}
}

func TestBlueprint_ZeroSumIsFatal(t *testing.T) {
	// exp(-inf) = 0: a corrupt prior with all-zero weights.
	state, err := NewSearchState(
		[]game.Player{"P1"},
		map[game.Player]game.ScoredActions{"P1": {"A": math.Inf(-1), "B": math.Inf(-1)}},
	)
	if err != nil {
		t.Fatalf("NewSearchState: %v", err)
	}
	if _, err := state.Blueprint("P1", 1.0); !errors.Is(err, ErrZeroBlueprint) {
		t.Errorf("expected ErrZeroBlueprint, got %v", err)
	}
}
