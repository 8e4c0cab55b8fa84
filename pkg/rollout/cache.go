package rollout

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/cfrsearch/pkg/game"
)

// ErrShapeMismatch reports a structural mismatch between a fresh oracle
// response and the cached running average for the same batch key. It is a
// data-contract violation on the oracle side, recovered locally: the fresh
// response is still returned, the cache entry stays unmerged.
var ErrShapeMismatch = errors.New("rollout: response shape mismatch on cache merge")

// Stats counts cache hits and misses for the life of one solve.
type Stats struct {
	Hits   int
	Misses int
}

// HitRate returns hits/(hits+misses), or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Stats) String() string {
	return fmt.Sprintf("cache[%d / %d = %.3f hit]", s.Hits, s.Hits+s.Misses, s.HitRate())
}

// ExactCache memoizes oracle responses verbatim: the first response for a
// batch key is stored and every later identical request is served from the
// entry without re-querying or averaging.
type ExactCache struct {
	oracle  Oracle
	entries map[string][]Result
	stats   Stats
}

// NewExactCache wraps an oracle with an exact per-solve cache.
func NewExactCache(oracle Oracle) *ExactCache {
	return &ExactCache{oracle: oracle, entries: make(map[string][]Result)}
}

// Evaluate implements Oracle.
func (c *ExactCache) Evaluate(ctx context.Context, batch []game.Profile) ([]Result, error) {
	key := BatchKey(batch)
	if cached, ok := c.entries[key]; ok {
		c.stats.Hits++
		return cached, nil
	}
	c.stats.Misses++
	results, err := c.oracle.Evaluate(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := CheckBatch(batch, results); err != nil {
		return nil, err
	}
	c.entries[key] = results
	return results, nil
}

// Stats returns the cache hit/miss counters.
func (c *ExactCache) Stats() Stats { return c.stats }

// avgEntry is one running-average cache slot.
type avgEntry struct {
	count int
	mean  []Result
}

// AveragingCache folds repeated observations of the same batch key into a
// running elementwise average, and only serves the cached value once the
// key has been observed at least minCount times. Below the gate every
// request still goes to the oracle; noisy estimates are averaged instead of
// trusted on first sight.
type AveragingCache struct {
	oracle   Oracle
	minCount int
	entries  map[string]*avgEntry
	stats    Stats
}

// NewAveragingCache wraps an oracle with a min-count-gated averaging cache.
func NewAveragingCache(oracle Oracle, minCount int) *AveragingCache {
	if minCount < 1 {
		minCount = 1
	}
	return &AveragingCache{oracle: oracle, minCount: minCount, entries: make(map[string]*avgEntry)}
}

// Evaluate implements Oracle.
func (c *AveragingCache) Evaluate(ctx context.Context, batch []game.Profile) ([]Result, error) {
	key := BatchKey(batch)
	entry := c.entries[key]
	if entry != nil && entry.count >= c.minCount {
		c.stats.Hits++
		return entry.mean, nil
	}

	c.stats.Misses++
	results, err := c.oracle.Evaluate(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := CheckBatch(batch, results); err != nil {
		return nil, err
	}

	if entry == nil {
		stored := make([]Result, len(results))
		for i, r := range results {
			stored[i] = r.clone()
		}
		c.entries[key] = &avgEntry{count: 1, mean: stored}
		return results, nil
	}

	if err := mergeMean(entry.mean, results, entry.count); err != nil {
		// Recovered locally: the entry stays unmerged and the fresh
		// response is still returned so the round can proceed.
		log.Warn().Err(err).Int("observations", entry.count).Msg("rollout cache merge failed")
		return results, nil
	}
	entry.count++
	return results, nil
}

// Stats returns the cache hit/miss counters.
func (c *AveragingCache) Stats() Stats { return c.stats }

// mergeMean folds a fresh response into the running mean in place:
// mean = (mean*count + fresh) / (count + 1). The response shape is fixed
// and known, so the merge is typed: same length, pairwise-equal profiles,
// identical utility key sets. Any deviation aborts before mutating.
func mergeMean(mean, fresh []Result, count int) error {
	if len(mean) != len(fresh) {
		return fmt.Errorf("%w: %d cached results vs %d fresh", ErrShapeMismatch, len(mean), len(fresh))
	}
	for i := range mean {
		if mean[i].Profile.Canonical() != fresh[i].Profile.Canonical() {
			return fmt.Errorf("%w: profile at index %d differs", ErrShapeMismatch, i)
		}
		if len(mean[i].Utility) != len(fresh[i].Utility) {
			return fmt.Errorf("%w: utility map size at index %d differs", ErrShapeMismatch, i)
		}
		for p := range mean[i].Utility {
			if _, ok := fresh[i].Utility[p]; !ok {
				return fmt.Errorf("%w: player %s missing at index %d", ErrShapeMismatch, p, i)
			}
		}
	}

	n := float64(count)
	for i := range mean {
		for p, avg := range mean[i].Utility {
			mean[i].Utility[p] = (avg*n + fresh[i].Utility[p]) / (n + 1)
		}
	}
	return nil
}
