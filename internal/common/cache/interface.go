package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis the judge worker relies on: a job list with a
// blocking pop, a sorted set of in-flight leases, and a coarse lock.
type Cache interface {
	BasicOps
	ListOps
	ZSetOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key; a missing key yields "".
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ListOps defines list operations
type ListOps interface {
	// LPush prepends one or more values to a list
	LPush(ctx context.Context, key string, values ...interface{}) error

	// LLen returns the length of a list
	LLen(ctx context.Context, key string) (int64, error)

	// BRPop blocks up to timeout for an element at the tail of one of keys.
	// It returns the [key, value] pair, or nil when the timeout elapses.
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error)
}

// ZSetOps defines sorted set operations
type ZSetOps interface {
	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRem(ctx context.Context, key string, members ...string) error

	// ZRangeByScore returns members whose score is <= max, lowest first
	ZRangeByScore(ctx context.Context, key string, max float64) ([]ZMember, error)
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock attempts to acquire a lock; false means another holder has it
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Unlock(ctx context.Context, key string) error
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
