// Package kvstore is the key/value service backing the day cache, the failure
// counters, the blacklist and the account quota.
package kvstore

import (
	"context"
	"time"
)

// Store is a string-keyed value store with per-key expiry.
// Implementations must be safe for concurrent use; Incr must be atomic.
type Store interface {
	// Get returns the value and true, or nil and false when the key is absent or expired
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value; a zero ttl means no expiry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically increments a counter. ttl is applied only when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Exists reports whether a live key is present
	Exists(ctx context.Context, key string) (bool, error)
	// DeletePattern removes every key matching a glob pattern and returns the count
	DeletePattern(ctx context.Context, pattern string) (int, error)
}
