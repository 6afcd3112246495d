// Package kv abstracts the shared fast key/value store used for
// coordination: rate-limiter windows, nonce guards, commitment TTLs and
// trailing price history. It is a cache/coordination layer, not a system
// of record.
package kv

import (
	"context"
	"time"
)

// Store is the coordination surface consumed by the limiter, commitment
// store, nonce guard and manipulation history. All mutating operations
// are atomic per key.
type Store interface {
	// SetNX stores value under key only if the key is absent, with a TTL.
	// Returns true when the write happened. This is the exactly-once claim
	// primitive for nonces and reveal flags.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value and whether the key exists and is unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Del removes a key.
	Del(ctx context.Context, key string) error

	// Incr atomically increments a counter, setting the TTL on first
	// increment, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SlidingWindowAdd atomically counts events in the trailing window and
	// admits the new event only if the count is below limit. Returns the
	// admission decision and the post-decision count.
	SlidingWindowAdd(ctx context.Context, key string, window time.Duration, limit int) (bool, int64, error)

	// SlidingWindowCount returns the number of events in the trailing window
	// without recording a new one.
	SlidingWindowCount(ctx context.Context, key string, window time.Duration) (int64, error)

	// SortedAppend appends a member with a score to a bounded sorted set,
	// trimming the oldest entries beyond maxLen.
	SortedAppend(ctx context.Context, key string, score float64, member string, maxLen int) error

	// SortedRange returns up to n members with the highest scores, ordered
	// by ascending score.
	SortedRange(ctx context.Context, key string, n int) ([]string, error)

	Close() error
}
