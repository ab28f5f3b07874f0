package observer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	r.ObserveSubmission(ctx, "ACCEPTED", 3, 120*time.Millisecond)
	r.ObserveSubmission(ctx, "ACCEPTED", 1, 10*time.Millisecond)
	r.ObserveSubmission(ctx, "WRONG_ANSWER", 2, 10*time.Millisecond)
	r.ObserveQueueDepth(7)
	r.ObserveJobError(ctx, "13001")
	r.ObserveCompile(ctx, "cpp", true, time.Second)
	r.ObserveRun(ctx, "cpp", "ACCEPTED", time.Second)

	if got := testutil.ToFloat64(r.submissions.WithLabelValues("ACCEPTED")); got != 2 {
		t.Fatalf("expected 2 accepted, got %v", got)
	}
	if got := testutil.ToFloat64(r.queueDepth); got != 7 {
		t.Fatalf("expected depth 7, got %v", got)
	}
	if got := testutil.ToFloat64(r.jobErrors.WithLabelValues("13001")); got != 1 {
		t.Fatalf("expected 1 job error, got %v", got)
	}
	if n := testutil.CollectAndCount(r.runSeconds); n != 1 {
		t.Fatalf("expected one run series, got %d", n)
	}
}

func TestPrometheusRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestNoopRecorder(t *testing.T) {
	var m MetricsRecorder = NoopMetricsRecorder{}
	m.ObserveSubmission(context.Background(), "ACCEPTED", 1, time.Millisecond)
}
