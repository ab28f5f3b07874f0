package queue

import (
	"context"
	"testing"
	"time"

	"klausjudge/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
)

func newTestQueue(t *testing.T, lease bool) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	cfg := cache.DefaultRedisConfig()
	cfg.URL = "redis://" + srv.Addr()
	c, err := cache.NewRedisCacheWithConfig(cfg)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	q, err := NewRedisQueue(c, "judge_queue", lease)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, srv
}

func TestPopJobFIFO(t *testing.T) {
	q, _ := newTestQueue(t, false)
	ctx := context.Background()
	for _, id := range []string{"first", "second"} {
		if err := q.Push(ctx, id); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	depth, err := q.QueueDepth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("expected depth 2, got %d (%v)", depth, err)
	}

	id, ok, err := q.PopJob(ctx, time.Second)
	if err != nil || !ok || id != "first" {
		t.Fatalf("expected first, got %q ok=%v err=%v", id, ok, err)
	}
	depth, _ = q.QueueDepth(ctx)
	if depth != 1 {
		t.Fatalf("popped item must leave the list, depth=%d", depth)
	}
}

func TestPopJobTimeoutReturnsNoJob(t *testing.T) {
	q, _ := newTestQueue(t, false)
	id, ok, err := q.PopJob(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if ok || id != "" {
		t.Fatalf("expected no job, got %q", id)
	}
}

func TestPushRejectsEmpty(t *testing.T) {
	q, _ := newTestQueue(t, false)
	if err := q.Push(context.Background(), ""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLeaseDisabledIsNoop(t *testing.T) {
	q, srv := newTestQueue(t, false)
	if err := q.Acquire(context.Background(), "job", time.Now()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if srv.Exists("judge_queue:inflight") {
		t.Fatalf("lease set must not be written when disabled")
	}
}

func TestLeaseAcquireRelease(t *testing.T) {
	q, _ := newTestQueue(t, true)
	ctx := context.Background()
	claimed := time.UnixMilli(1_000_000)
	if err := q.Acquire(ctx, "job-1", claimed); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	leases, err := q.Inflight(ctx, claimed)
	if err != nil || len(leases) != 1 || leases[0].JobID != "job-1" || !leases[0].ClaimedAt.Equal(claimed) {
		t.Fatalf("unexpected leases %v (%v)", leases, err)
	}
	if err := q.Release(ctx, "job-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	leases, _ = q.Inflight(ctx, claimed)
	if len(leases) != 0 {
		t.Fatalf("expected lease released, got %v", leases)
	}
}

func TestReclaimerRequeuesOnlyStale(t *testing.T) {
	q, _ := newTestQueue(t, true)
	ctx := context.Background()
	now := time.Unix(10_000, 0)

	if err := q.Acquire(ctx, "stale", now.Add(-20*time.Minute)); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := q.Acquire(ctx, "fresh", now.Add(-time.Minute)); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	r := NewReclaimer(q, ReclaimConfig{Enabled: true, StaleAfter: 10 * time.Minute})
	r.now = func() time.Time { return now }

	n, err := r.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 requeued, got %d (%v)", n, err)
	}
	id, ok, err := q.PopJob(ctx, time.Second)
	if err != nil || !ok || id != "stale" {
		t.Fatalf("expected stale job requeued, got %q ok=%v err=%v", id, ok, err)
	}
	leases, _ := q.Inflight(ctx, now)
	if len(leases) != 1 || leases[0].JobID != "fresh" {
		t.Fatalf("fresh lease must remain, got %v", leases)
	}
}

func TestReclaimerSkipsWhenLocked(t *testing.T) {
	q, _ := newTestQueue(t, true)
	ctx := context.Background()
	if ok, err := q.cache.TryLock(ctx, "judge_queue:reclaim:lock", time.Minute); err != nil || !ok {
		t.Fatalf("pre-lock failed: %v", err)
	}
	_ = q.Acquire(ctx, "stale", time.Unix(0, 0))

	r := NewReclaimer(q, ReclaimConfig{Enabled: true})
	n, err := r.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected skipped sweep, got %d (%v)", n, err)
	}
}
