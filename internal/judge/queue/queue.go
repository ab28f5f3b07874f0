// Package queue claims judge jobs from the shared Redis list.
package queue

import (
	"context"
	"fmt"
	"time"

	"klausjudge/internal/common/cache"
	appErr "klausjudge/pkg/errors"
)

const (
	inflightSuffix    = ":inflight"
	reclaimLockSuffix = ":reclaim:lock"
)

// Client is the queue surface the worker loop consumes.
type Client interface {
	// PopJob blocks up to timeout. ok is false when nothing arrived.
	PopJob(ctx context.Context, timeout time.Duration) (jobID string, ok bool, err error)
	QueueDepth(ctx context.Context) (int64, error)
}

// Leaser tracks claimed jobs until they reach a terminal state.
type Leaser interface {
	Acquire(ctx context.Context, jobID string, at time.Time) error
	Release(ctx context.Context, jobID string) error
}

// RedisQueue implements Client and Leaser on a Redis list plus a sorted set.
// A popped item is gone from the list; lease tracking only exists when enabled.
type RedisQueue struct {
	cache        cache.Cache
	name         string
	leaseEnabled bool
}

// NewRedisQueue creates a queue bound to one list name.
func NewRedisQueue(c cache.Cache, name string, leaseEnabled bool) (*RedisQueue, error) {
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	return &RedisQueue{cache: c, name: name, leaseEnabled: leaseEnabled}, nil
}

// Name returns the list key.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) inflightKey() string {
	return q.name + inflightSuffix
}

func (q *RedisQueue) PopJob(ctx context.Context, timeout time.Duration) (string, bool, error) {
	reply, err := q.cache.BRPop(ctx, timeout, q.name)
	if err != nil {
		return "", false, appErr.Wrapf(err, appErr.QueueError, "pop from %s failed", q.name)
	}
	if len(reply) < 2 {
		return "", false, nil
	}
	return reply[1], true, nil
}

func (q *RedisQueue) QueueDepth(ctx context.Context) (int64, error) {
	n, err := q.cache.LLen(ctx, q.name)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.QueueError, "queue depth of %s failed", q.name)
	}
	return n, nil
}

// Push enqueues a job id in the shape PopJob consumes.
func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	if jobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if err := q.cache.LPush(ctx, q.name, jobID); err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "push to %s failed", q.name)
	}
	return nil
}

func (q *RedisQueue) Acquire(ctx context.Context, jobID string, at time.Time) error {
	if !q.leaseEnabled {
		return nil
	}
	member := cache.ZMember{Score: float64(at.UnixMilli()), Member: jobID}
	if err := q.cache.ZAdd(ctx, q.inflightKey(), member); err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "record lease for %s failed", jobID)
	}
	return nil
}

func (q *RedisQueue) Release(ctx context.Context, jobID string) error {
	if !q.leaseEnabled {
		return nil
	}
	if err := q.cache.ZRem(ctx, q.inflightKey(), jobID); err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "release lease for %s failed", jobID)
	}
	return nil
}

// Inflight returns leases claimed at or before cutoff, oldest first.
func (q *RedisQueue) Inflight(ctx context.Context, cutoff time.Time) ([]Lease, error) {
	members, err := q.cache.ZRangeByScore(ctx, q.inflightKey(), float64(cutoff.UnixMilli()))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.QueueError, "list leases failed")
	}
	leases := make([]Lease, 0, len(members))
	for _, m := range members {
		leases = append(leases, Lease{JobID: m.Member, ClaimedAt: time.UnixMilli(int64(m.Score))})
	}
	return leases, nil
}

// Lease is one claimed job awaiting a terminal write.
type Lease struct {
	JobID     string
	ClaimedAt time.Time
}

