// Package redisstore provides an optional Redis-backed rollout result
// store. Unlike the per-solve caches in pkg/rollout, the store persists
// across solves and processes, which amortizes oracle cost over long
// self-play runs. It wraps an inner oracle and is itself an oracle.
package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
)

// Store serves rollout batches from Redis, falling through to the inner
// oracle on miss and writing the result back with a TTL.
type Store struct {
	rdb    *redis.Client
	oracle rollout.Oracle
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the expiry on stored batches. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key namespace (default "rollout").
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New connects to Redis and wraps the given oracle.
func New(redisURL string, oracle rollout.Oracle, opts ...Option) (*Store, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(parsed)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(rdb, oracle, opts...), nil
}

// NewFromClient wraps an existing redis client, for tests and shared pools.
func NewFromClient(rdb *redis.Client, oracle rollout.Oracle, opts ...Option) *Store {
	s := &Store{rdb: rdb, oracle: oracle, prefix: "rollout", ttl: 24 * time.Hour}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error { return s.rdb.Close() }

// key derives the Redis key for a batch. The canonical batch key is hashed
// so arbitrarily large batches stay within Redis key-size norms; content
// exactness is preserved by the canonical encoding underneath.
func (s *Store) key(batch []game.Profile) string {
	sum := sha256.Sum256([]byte(rollout.BatchKey(batch)))
	return s.prefix + ":" + hex.EncodeToString(sum[:])
}

// storedResult is the JSON wire form of one rollout.Result.
type storedResult struct {
	Profile map[string]string  `json:"profile"`
	Utility map[string]float64 `json:"utility"`
}

// Evaluate implements rollout.Oracle.
func (s *Store) Evaluate(ctx context.Context, batch []game.Profile) ([]rollout.Result, error) {
	key := s.key(batch)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		results, derr := decodeResults(data)
		if derr == nil && len(results) == len(batch) {
			return results, nil
		}
		// Corrupt or stale-format entry: drop it and re-evaluate.
		s.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		return nil, fmt.Errorf("redisstore get: %w", err)
	}

	results, err := s.oracle.Evaluate(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := rollout.CheckBatch(batch, results); err != nil {
		return nil, err
	}

	encoded, err := encodeResults(results)
	if err != nil {
		return nil, fmt.Errorf("redisstore encode: %w", err)
	}
	if err := s.rdb.Set(ctx, key, encoded, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redisstore set: %w", err)
	}
	return results, nil
}

func encodeResults(results []rollout.Result) ([]byte, error) {
	out := make([]storedResult, len(results))
	for i, r := range results {
		sr := storedResult{
			Profile: make(map[string]string, len(r.Profile)),
			Utility: make(map[string]float64, len(r.Utility)),
		}
		for p, a := range r.Profile {
			sr.Profile[string(p)] = string(a)
		}
		for p, u := range r.Utility {
			sr.Utility[string(p)] = u
		}
		out[i] = sr
	}
	return json.Marshal(out)
}

func decodeResults(data []byte) ([]rollout.Result, error) {
	var stored []storedResult
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	results := make([]rollout.Result, len(stored))
	for i, sr := range stored {
		r := rollout.Result{
			Profile: make(game.Profile, len(sr.Profile)),
			Utility: make(map[game.Player]float64, len(sr.Utility)),
		}
		for p, a := range sr.Profile {
			r.Profile[game.Player(p)] = game.Action(a)
		}
		for p, u := range sr.Utility {
			r.Utility[game.Player(p)] = u
		}
		results[i] = r
	}
	return results, nil
}
