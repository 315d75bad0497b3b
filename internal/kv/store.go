package kv

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("kv: store unavailable")

// ScoredMember is one (member, score) pair from a sorted set.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the narrow key-value capability the ledger depends on. Any backend
// offering get/set-with-ttl/mget, sorted sets, and atomic batches qualifies;
// production uses Redis, tests use the in-memory implementation.
type Store interface {
	// Available reports whether the backend is reachable. Callers use it to
	// short-circuit reads into empty results instead of errors.
	Available(ctx context.Context) bool

	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// MGet returns one entry per requested key, nil for keys that are absent.
	MGet(ctx context.Context, keys ...string) ([]*string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRevRangeWithScores returns members ordered by descending score for the
	// rank range [start, stop], both inclusive, where rank 0 is the highest
	// score.
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)

	// Batch starts an atomic multi-command write. Queued commands take effect
	// together on Exec or not at all.
	Batch() Batch
}

// Batch queues writes for a single atomic round trip.
type Batch interface {
	Set(key, value string)
	SetWithTTL(key, value string, ttl time.Duration)
	ZAdd(key string, score float64, member string)
	Incr(key string)
	Expire(key string, ttl time.Duration)
	Exec(ctx context.Context) error
}
