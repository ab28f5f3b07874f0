package service

import (
	"context"
	"reflect"
	"testing"
	"time"

	"klausjudge/internal/judge/sandbox/observer"
	appErr "klausjudge/pkg/errors"
)

type scriptedJudge struct {
	jobs []string
	errs map[string]error
}

func (j *scriptedJudge) Judge(ctx context.Context, rawJobID string) error {
	j.jobs = append(j.jobs, rawJobID)
	return j.errs[rawJobID]
}

func runLoop(t *testing.T, replies []popReply, judge JobJudge) (*fakeClock, *fakeQueue, *Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := &fakeQueue{replies: replies, cancel: cancel}
	clock := &fakeClock{now: time.Unix(0, 0)}
	l, err := NewLoop(LoopConfig{WorkerID: "w1", PollInterval: time.Second, ErrorBackoff: 5 * time.Second, PopTimeout: 5 * time.Second},
		q, judge, clock, observer.NoopMetricsRecorder{})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop")
	}
	return clock, q, l
}

func TestLoopWaitsPollIntervalAfterEmptyPop(t *testing.T) {
	clock, q, _ := runLoop(t, []popReply{{}, {}}, &scriptedJudge{})
	if !reflect.DeepEqual(clock.waits, []time.Duration{time.Second, time.Second}) {
		t.Fatalf("unexpected waits %v", clock.waits)
	}
	for _, timeout := range q.timeouts {
		if timeout != 5*time.Second {
			t.Fatalf("unexpected pop timeout %s", timeout)
		}
	}
}

func TestLoopBacksOffAfterErrors(t *testing.T) {
	judge := &scriptedJudge{errs: map[string]error{
		"bad": appErr.New(appErr.InvalidJobPayload),
	}}
	replies := []popReply{
		{err: errBoom},
		{id: "bad", ok: true},
		{id: "good", ok: true},
		{},
	}
	clock, _, l := runLoop(t, replies, judge)
	want := []time.Duration{5 * time.Second, 5 * time.Second, time.Second}
	if !reflect.DeepEqual(clock.waits, want) {
		t.Fatalf("unexpected waits %v, want %v", clock.waits, want)
	}
	if !reflect.DeepEqual(judge.jobs, []string{"bad", "good"}) {
		t.Fatalf("unexpected jobs %v", judge.jobs)
	}
	stats := l.Stats()
	if stats.Processed != 1 || stats.Failed != 1 || stats.WorkerID != "w1" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestLoopClaimsNextJobImmediatelyAfterSuccess(t *testing.T) {
	clock, _, _ := runLoop(t, []popReply{{id: "a", ok: true}, {id: "b", ok: true}}, &scriptedJudge{})
	if len(clock.waits) != 0 {
		t.Fatalf("no wait expected between successful jobs, got %v", clock.waits)
	}
}

func TestNewLoopDefaults(t *testing.T) {
	l, err := NewLoop(LoopConfig{}, &fakeQueue{}, &scriptedJudge{}, nil, nil)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	if l.cfg.PollInterval != time.Second || l.cfg.ErrorBackoff != 5*time.Second || l.cfg.PopTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", l.cfg)
	}
	if _, err := NewLoop(LoopConfig{}, nil, &scriptedJudge{}, nil, nil); err == nil {
		t.Fatalf("expected error without queue")
	}
}
