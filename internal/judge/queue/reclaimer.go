package queue

import (
	"context"
	"time"

	appErr "klausjudge/pkg/errors"
	"klausjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// ReclaimConfig controls stale-lease recovery.
type ReclaimConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	Interval   time.Duration `yaml:"interval" toml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after" toml:"stale_after"`
}

// Reclaimer re-queues jobs whose lease outlived StaleAfter, which means the
// worker holding them died before writing a verdict.
type Reclaimer struct {
	queue *RedisQueue
	cfg   ReclaimConfig
	now   func() time.Time
}

// NewReclaimer creates a reclaimer. Zero durations fall back to 30s / 10m.
func NewReclaimer(q *RedisQueue, cfg ReclaimConfig) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Reclaimer{queue: q, cfg: cfg, now: time.Now}
}

// Run sweeps every Interval until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logger.Warn(ctx, "reclaim sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep re-pushes stale leases once and returns how many were requeued.
// Only one worker sweeps at a time.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	lockKey := r.queue.name + reclaimLockSuffix
	ok, err := r.queue.cache.TryLock(ctx, lockKey, r.cfg.Interval)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.LockFailed, "acquire reclaim lock failed")
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := r.queue.cache.Unlock(ctx, lockKey); err != nil {
			logger.Warn(ctx, "release reclaim lock failed", zap.Error(err))
		}
	}()

	stale, err := r.queue.Inflight(ctx, r.now().Add(-r.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, lease := range stale {
		if err := r.queue.Push(ctx, lease.JobID); err != nil {
			return requeued, err
		}
		if err := r.queue.cache.ZRem(ctx, r.queue.inflightKey(), lease.JobID); err != nil {
			return requeued, appErr.Wrapf(err, appErr.QueueError, "drop lease for %s failed", lease.JobID)
		}
		requeued++
		logger.Info(ctx, "requeued stale job", zap.String("job_id", lease.JobID), zap.Time("claimed_at", lease.ClaimedAt))
	}
	return requeued, nil
}
