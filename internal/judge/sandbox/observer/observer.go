// Package observer defines metrics hooks for sandbox execution and judging.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox and judge metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, elapsed time.Duration)
	ObserveRun(ctx context.Context, languageID string, verdict string, elapsed time.Duration)
	ObserveSubmission(ctx context.Context, verdict string, tests int, elapsed time.Duration)
	ObserveQueueDepth(depth int64)
	ObserveJobError(ctx context.Context, code string)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, time.Duration) {}
func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, time.Duration) {}
func (NoopMetricsRecorder) ObserveSubmission(context.Context, string, int, time.Duration) {}
func (NoopMetricsRecorder) ObserveQueueDepth(int64) {}
func (NoopMetricsRecorder) ObserveJobError(context.Context, string) {}
