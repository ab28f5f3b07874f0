package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"klausjudge/internal/judge/model"
	"klausjudge/internal/judge/repository"
	"klausjudge/internal/judge/sandbox/runner"

	"github.com/google/uuid"
)

type verdictWrite struct {
	id       uuid.UUID
	verdict  model.Verdict
	timeMs   float64
	memoryKB int64
}

type fakePersistence struct {
	mu          sync.Mutex
	submission  model.Submission
	cases       []model.TestCase
	statuses    []string
	verdicts    []verdictWrite
	saved       [][]model.TestResult
	calls       int
	statusErr   error
	fetchErr    error
	verdictErr  error
	failStatus  string
	statusCtxOK []bool
}

func (f *fakePersistence) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.statuses = append(f.statuses, status)
	f.statusCtxOK = append(f.statusCtxOK, ctx.Err() == nil)
	if f.statusErr != nil && (f.failStatus == "" || f.failStatus == status) {
		return f.statusErr
	}
	return nil
}

func (f *fakePersistence) GetSubmission(ctx context.Context, id uuid.UUID) (model.Submission, error) {
	f.calls++
	if f.fetchErr != nil {
		return model.Submission{}, f.fetchErr
	}
	sub := f.submission
	sub.ID = id
	return sub, nil
}

func (f *fakePersistence) ListTestCases(ctx context.Context, problemID uuid.UUID) ([]model.TestCase, error) {
	f.calls++
	return f.cases, nil
}

func (f *fakePersistence) SetVerdict(ctx context.Context, id uuid.UUID, verdict model.Verdict, timeMs float64, memoryKB int64) error {
	f.calls++
	f.verdicts = append(f.verdicts, verdictWrite{id: id, verdict: verdict, timeMs: timeMs, memoryKB: memoryKB})
	return f.verdictErr
}

func (f *fakePersistence) SaveTestResults(ctx context.Context, id uuid.UUID, results []model.TestResult) error {
	f.calls++
	f.saved = append(f.saved, results)
	return nil
}

// fakeRunner returns scripted results in call order.
type fakeRunner struct {
	results  []model.TestResult
	err      error
	errAt    int
	requests []runner.TestRequest
	// onRun is called before each result is returned.
	onRun func()
}

func (r *fakeRunner) ExecuteTest(ctx context.Context, req runner.TestRequest) (model.TestResult, error) {
	i := len(r.requests)
	r.requests = append(r.requests, req)
	if r.onRun != nil {
		r.onRun()
	}
	if r.err != nil && i == r.errAt {
		return model.TestResult{}, r.err
	}
	if i < len(r.results) {
		return r.results[i], nil
	}
	return model.TestResult{Verdict: model.VerdictAccepted}, nil
}

type fakeLeaser struct {
	acquired []string
	scores   []time.Time
	released []string
}

func (l *fakeLeaser) Acquire(ctx context.Context, jobID string, at time.Time) error {
	l.acquired = append(l.acquired, jobID)
	l.scores = append(l.scores, at)
	return nil
}

func (l *fakeLeaser) Release(ctx context.Context, jobID string) error {
	l.released = append(l.released, jobID)
	return nil
}

type fakeEvents struct {
	events []model.VerdictEvent
	err    error
}

func (e *fakeEvents) PublishVerdict(ctx context.Context, event model.VerdictEvent) error {
	e.events = append(e.events, event)
	return e.err
}

type fakeArchive struct {
	results []model.SubmissionResult
}

func (a *fakeArchive) Archive(ctx context.Context, r model.SubmissionResult) (string, error) {
	a.results = append(a.results, r)
	return "key", nil
}

type fakeProgress struct {
	snapshots []repository.Progress
}

func (p *fakeProgress) Save(ctx context.Context, pr repository.Progress) error {
	p.snapshots = append(p.snapshots, pr)
	return nil
}

// fakeClock records requested waits and fires them immediately.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type popReply struct {
	id  string
	ok  bool
	err error
}

// fakeQueue replays scripted pops, then cancels the loop.
type fakeQueue struct {
	replies  []popReply
	timeouts []time.Duration
	cancel   context.CancelFunc
	depth    int64
}

func (q *fakeQueue) PopJob(ctx context.Context, timeout time.Duration) (string, bool, error) {
	q.timeouts = append(q.timeouts, timeout)
	if len(q.replies) == 0 {
		q.cancel()
		return "", false, nil
	}
	r := q.replies[0]
	q.replies = q.replies[1:]
	return r.id, r.ok, r.err
}

func (q *fakeQueue) QueueDepth(ctx context.Context) (int64, error) {
	return q.depth, nil
}

var errBoom = errors.New("boom")
