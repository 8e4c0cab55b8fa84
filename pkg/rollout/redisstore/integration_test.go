//go:build integration

package redisstore

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/freeeve/cfrsearch/internal/testutil"
	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
)

var testRDB *goredis.Client

// countingOracle returns a flat 0.5 utility per profile player and counts
// how many times it is queried.
type countingOracle struct {
	calls int
}

func (o *countingOracle) Evaluate(_ context.Context, batch []game.Profile) ([]rollout.Result, error) {
	o.calls++
	results := make([]rollout.Result, len(batch))
	for i, p := range batch {
		utility := make(map[game.Player]float64, len(p))
		for player := range p {
			utility[player] = 0.5
		}
		results[i] = rollout.Result{Profile: p.Clone(), Utility: utility}
	}
	return results, nil
}

func setup(t *testing.T) *goredis.Client {
	t.Helper()
	if testRDB == nil {
		testRDB = testutil.SetupRedis(t)
	}
	testutil.CleanupRedis(t, testRDB)
	return testRDB
}

func testBatch() []game.Profile {
	return []game.Profile{
		{"P1": "A", "P2": "X"},
		{"P1": "B", "P2": "X"},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()
	oracle := &countingOracle{}
	store := NewFromClient(rdb, oracle)

	first, err := store.Evaluate(ctx, testBatch())
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := store.Evaluate(ctx, testBatch())
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if oracle.calls != 1 {
		t.Errorf("expected 1 oracle call, got %d", oracle.calls)
	}
	for i := range first {
		for p, u := range first[i].Utility {
			if second[i].Utility[p] != u {
				t.Errorf("round-trip mismatch at %d/%s: %v vs %v", i, p, second[i].Utility[p], u)
			}
		}
		if first[i].Profile.Canonical() != second[i].Profile.Canonical() {
			t.Errorf("profile round-trip mismatch at %d", i)
		}
	}
}

func TestStoreSharedAcrossInstances(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()

	writer := NewFromClient(rdb, &countingOracle{})
	if _, err := writer.Evaluate(ctx, testBatch()); err != nil {
		t.Fatalf("writer evaluate: %v", err)
	}

	// A second store over the same Redis sees the entry without touching
	// its own oracle.
	readerOracle := &countingOracle{}
	reader := NewFromClient(rdb, readerOracle)
	if _, err := reader.Evaluate(ctx, testBatch()); err != nil {
		t.Fatalf("reader evaluate: %v", err)
	}
	if readerOracle.calls != 0 {
		t.Errorf("reader should be served from redis, got %d oracle calls", readerOracle.calls)
	}
}

func TestStorePrefixIsolation(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()

	a := NewFromClient(rdb, &countingOracle{}, WithPrefix("runA"))
	if _, err := a.Evaluate(ctx, testBatch()); err != nil {
		t.Fatalf("evaluate under runA: %v", err)
	}

	bOracle := &countingOracle{}
	b := NewFromClient(rdb, bOracle, WithPrefix("runB"))
	if _, err := b.Evaluate(ctx, testBatch()); err != nil {
		t.Fatalf("evaluate under runB: %v", err)
	}
	if bOracle.calls != 1 {
		t.Errorf("distinct prefixes must not share entries, got %d oracle calls", bOracle.calls)
	}
}

func TestStoreTTL(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()
	store := NewFromClient(rdb, &countingOracle{}, WithTTL(time.Hour))

	if _, err := store.Evaluate(ctx, testBatch()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	keys, err := rdb.Keys(ctx, "rollout:*").Result()
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected 1 stored key, got %v (%v)", keys, err)
	}
	ttl, err := rdb.TTL(ctx, keys[0]).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("expected TTL within (0, 1h], got %v", ttl)
	}
}

func TestStoreCorruptEntryReEvaluated(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()
	oracle := &countingOracle{}
	store := NewFromClient(rdb, oracle)

	if _, err := store.Evaluate(ctx, testBatch()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	keys, err := rdb.Keys(ctx, "rollout:*").Result()
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected 1 stored key, got %v (%v)", keys, err)
	}
	if err := rdb.Set(ctx, keys[0], "not json", 0).Err(); err != nil {
		t.Fatalf("corrupt entry: %v", err)
	}

	results, err := store.Evaluate(ctx, testBatch())
	if err != nil {
		t.Fatalf("evaluate over corrupt entry: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if oracle.calls != 2 {
		t.Errorf("corrupt entry should fall through to the oracle, got %d calls", oracle.calls)
	}
}
