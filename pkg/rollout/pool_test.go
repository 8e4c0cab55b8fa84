package rollout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// ---------------------------------------------------------------------------
// Pool tests
// ---------------------------------------------------------------------------

func TestPool_PreservesRequestOrder(t *testing.T) {
	eval := EvaluatorFunc(func(_ context.Context, profile game.Profile) (map[game.Player]float64, error) {
		// Encode the request in the response so reordering is detectable.
		v, err := strconv.Atoi(string(profile["P1"]))
		if err != nil {
			return nil, err
		}
		return map[game.Player]float64{"P1": float64(v)}, nil
	})
	pool := NewPool(eval, 3)

	batch := make([]game.Profile, 20)
	for i := range batch {
		batch[i] = game.Profile{"P1": game.Action(strconv.Itoa(i))}
	}
	results, err := pool.Evaluate(context.Background(), batch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if err := CheckBatch(batch, results); err != nil {
		t.Fatalf("CheckBatch: %v", err)
	}
	for i, r := range results {
		if got := r.Utility["P1"]; got != float64(i) {
			t.Errorf("result %d out of order: got %v", i, got)
		}
	}
}

func TestPool_SingleFailureFailsBatch(t *testing.T) {
	wantErr := errors.New("rollout crashed")
	eval := EvaluatorFunc(func(_ context.Context, profile game.Profile) (map[game.Player]float64, error) {
		if profile["P1"] == "5" {
			return nil, wantErr
		}
		return map[game.Player]float64{"P1": 0}, nil
	})
	pool := NewPool(eval, 2)

	batch := make([]game.Profile, 10)
	for i := range batch {
		batch[i] = game.Profile{"P1": game.Action(strconv.Itoa(i))}
	}
	if _, err := pool.Evaluate(context.Background(), batch); !errors.Is(err, wantErr) {
		t.Errorf("expected the profile error, got %v", err)
	}
}

func TestPool_RespectsWorkerLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	eval := EvaluatorFunc(func(_ context.Context, _ game.Profile) (map[game.Player]float64, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		return map[game.Player]float64{"P1": 0}, nil
	})
	pool := NewPool(eval, 2)

	batch := make([]game.Profile, 16)
	for i := range batch {
		batch[i] = game.Profile{"P1": game.Action(fmt.Sprintf("a%d", i))}
	}
	if _, err := pool.Evaluate(context.Background(), batch); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("worker limit exceeded: peak %d", peak.Load())
	}
}

func TestPool_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eval := EvaluatorFunc(func(ctx context.Context, _ game.Profile) (map[game.Player]float64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return map[game.Player]float64{"P1": 0}, nil
	})
	pool := NewPool(eval, 2)

	if _, err := pool.Evaluate(ctx, []game.Profile{{"P1": "A"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPool_EmptyBatch(t *testing.T) {
	pool := NewPool(EvaluatorFunc(func(_ context.Context, _ game.Profile) (map[game.Player]float64, error) {
		return nil, errors.New("must not be called")
	}), 2)
	results, err := pool.Evaluate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result set, got %d", len(results))
	}
}
