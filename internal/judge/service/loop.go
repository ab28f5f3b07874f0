package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"klausjudge/internal/judge/queue"
	"klausjudge/internal/judge/sandbox/observer"
	appErr "klausjudge/pkg/errors"
	"klausjudge/pkg/utils/contextkey"
	"klausjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Second
	defaultErrorBackoff = 5 * time.Second
	defaultPopTimeout   = 5 * time.Second
)

// LoopConfig controls claim timing.
type LoopConfig struct {
	WorkerID     string
	PollInterval time.Duration
	// ErrorBackoff is the fixed wait after a failed iteration; it must exceed PollInterval.
	ErrorBackoff time.Duration
	PopTimeout   time.Duration
}

// JobJudge is the orchestrator surface the loop drives.
type JobJudge interface {
	Judge(ctx context.Context, rawJobID string) error
}

// Loop claims jobs one at a time and hands them to the orchestrator.
type Loop struct {
	cfg     LoopConfig
	queue   queue.Client
	judge   JobJudge
	clock   Clock
	metrics observer.MetricsRecorder

	processed atomic.Int64
	failed    atomic.Int64
	lastJobAt atomic.Int64
}

// LoopStats is a snapshot of one loop's counters.
type LoopStats struct {
	WorkerID  string `json:"worker_id"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	LastJobAt int64  `json:"last_job_at,omitempty"`
}

// NewLoop creates a loop. Zero durations take the defaults.
func NewLoop(cfg LoopConfig, q queue.Client, judge JobJudge, clock Clock, metrics observer.MetricsRecorder) (*Loop, error) {
	if q == nil {
		return nil, fmt.Errorf("queue client is required")
	}
	if judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	if clock == nil {
		clock = RealClock{}
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &Loop{cfg: cfg, queue: q, judge: judge, clock: clock, metrics: metrics}, nil
}

// Run loops until ctx is cancelled and then returns nil.
func (l *Loop) Run(ctx context.Context) error {
	ctx = context.WithValue(ctx, contextkey.WorkerID, l.cfg.WorkerID)
	logger.Info(ctx, "worker loop started",
		zap.Duration("poll_interval", l.cfg.PollInterval),
		zap.Duration("error_backoff", l.cfg.ErrorBackoff))
	for {
		delay := l.iterate(ctx)
		if ctx.Err() != nil {
			break
		}
		if delay > 0 {
			if err := wait(ctx, l.clock, delay); err != nil {
				break
			}
		}
	}
	logger.Info(ctx, "worker loop stopped")
	return nil
}

// iterate performs one claim and returns how long to wait before the next one.
func (l *Loop) iterate(ctx context.Context) time.Duration {
	jobID, ok, err := l.queue.PopJob(ctx, l.cfg.PopTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		logger.Error(ctx, "claim job failed", zap.Error(err))
		return l.cfg.ErrorBackoff
	}
	if !ok {
		if depth, err := l.queue.QueueDepth(ctx); err == nil {
			l.metrics.ObserveQueueDepth(depth)
		}
		return l.cfg.PollInterval
	}

	l.lastJobAt.Store(l.clock.Now().Unix())
	if err := l.judge.Judge(ctx, jobID); err != nil {
		l.failed.Add(1)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return 0
		}
		logger.Error(ctx, "job failed",
			zap.String("job_id", jobID),
			zap.Bool("retryable", appErr.GetCode(err).Retryable()),
			zap.Error(err))
		return l.cfg.ErrorBackoff
	}
	l.processed.Add(1)
	return 0
}

// Stats returns the loop counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		WorkerID:  l.cfg.WorkerID,
		Processed: l.processed.Load(),
		Failed:    l.failed.Load(),
		LastJobAt: l.lastJobAt.Load(),
	}
}

// JudgeFunc adapts an orchestrator to JobJudge.
type JudgeFunc func(ctx context.Context, rawJobID string) error

func (f JudgeFunc) Judge(ctx context.Context, rawJobID string) error {
	return f(ctx, rawJobID)
}

// AsJobJudge discards the result of Orchestrator.Judge.
func (o *Orchestrator) AsJobJudge() JobJudge {
	return JudgeFunc(func(ctx context.Context, rawJobID string) error {
		_, err := o.Judge(ctx, rawJobID)
		return err
	})
}
