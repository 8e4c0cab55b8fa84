package rollout

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// Evaluator estimates per-player utilities for a single joint profile.
// Pool adapts one of these to the batched Oracle interface.
type Evaluator interface {
	EvaluateProfile(ctx context.Context, profile game.Profile) (map[game.Player]float64, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, profile game.Profile) (map[game.Player]float64, error)

// EvaluateProfile implements Evaluator.
func (f EvaluatorFunc) EvaluateProfile(ctx context.Context, profile game.Profile) (map[game.Player]float64, error) {
	return f(ctx, profile)
}

// Pool fans a batch out across a bounded worker pool and blocks until the
// complete result set is in, preserving request order. Any single profile
// failure fails the whole batch: the round has no partial-result recovery.
type Pool struct {
	eval    Evaluator
	workers int
}

// NewPool wraps a per-profile evaluator. workers <= 0 means unbounded.
func NewPool(eval Evaluator, workers int) *Pool {
	return &Pool{eval: eval, workers: workers}
}

// Evaluate implements Oracle.
func (p *Pool) Evaluate(ctx context.Context, batch []game.Profile) ([]Result, error) {
	results := make([]Result, len(batch))

	g, ctx := errgroup.WithContext(ctx)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, profile := range batch {
		g.Go(func() error {
			utility, err := p.eval.EvaluateProfile(ctx, profile)
			if err != nil {
				return err
			}
			results[i] = Result{Profile: profile, Utility: utility}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
