// Package rollout defines the oracle interface through which the search
// core obtains outcome estimates for joint action profiles, plus the
// caching and fan-out middleware that sit between the core and a concrete
// evaluator.
package rollout

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// Result pairs a joint profile with the estimated utility for every player.
// Higher is better for that player; there is no further normalization
// contract.
type Result struct {
	Profile game.Profile
	Utility map[game.Player]float64
}

// clone returns a deep copy of the result.
func (r Result) clone() Result {
	out := Result{Profile: r.Profile.Clone(), Utility: make(map[game.Player]float64, len(r.Utility))}
	for p, u := range r.Utility {
		out.Utility[p] = u
	}
	return out
}

// Oracle evaluates an ordered batch of joint profiles and returns one
// result per profile, in the same order. The call is a synchronous
// round-trip: no partial results, no reordering.
type Oracle interface {
	Evaluate(ctx context.Context, batch []game.Profile) ([]Result, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, batch []game.Profile) ([]Result, error)

// Evaluate implements Oracle.
func (f Func) Evaluate(ctx context.Context, batch []game.Profile) ([]Result, error) {
	return f(ctx, batch)
}

// BatchKey returns the canonical key for a request batch: the multiset of
// its profiles, insensitive to batch order but exact on content. Two
// batches containing the same profiles in any order map to the same key.
func BatchKey(batch []game.Profile) string {
	keys := make([]string, len(batch))
	for i, p := range batch {
		keys[i] = p.Canonical()
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}

// CheckBatch asserts request/response length equality. Misaligned batches
// must fail loudly rather than silently corrupt regret updates downstream.
func CheckBatch(batch []game.Profile, results []Result) error {
	if len(results) != len(batch) {
		return fmt.Errorf("rollout: oracle returned %d results for batch of %d", len(results), len(batch))
	}
	return nil
}
