// Package service drives judging: claiming jobs, running tests and persisting verdicts.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klausjudge/internal/judge/model"
	"klausjudge/internal/judge/queue"
	"klausjudge/internal/judge/repository"
	"klausjudge/internal/judge/sandbox/observer"
	"klausjudge/internal/judge/sandbox/runner"
	appErr "klausjudge/pkg/errors"
	"klausjudge/pkg/utils/contextkey"
	"klausjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSideEffectTimeout = 10 * time.Second

// ProgressStore receives judging snapshots.
type ProgressStore interface {
	Save(ctx context.Context, p repository.Progress) error
}

// Config holds orchestrator dependencies and settings.
type Config struct {
	Persistence repository.PersistenceClient
	Runner      runner.SandboxRunner

	// Optional collaborators; nil disables each. A non-nil Leaser means a
	// reclaimer requeues stale leases, so shutdown leaves the lease in place.
	Leaser   queue.Leaser
	Events   repository.EventPublisher
	Archive  repository.ResultArchive
	Progress ProgressStore
	Metrics  observer.MetricsRecorder
	Clock    Clock

	WorkerID           string
	DefaultTimeLimitMs int64
	DefaultMemoryMB    int64
	RecordTestResults  bool
	// SideEffectTimeout bounds each best-effort write after the verdict is stored.
	SideEffectTimeout time.Duration
}

// Orchestrator judges one job at a time. It holds no per-job state between calls.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator validates cfg and fills defaults.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("persistence client is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("sandbox runner is required")
	}
	if cfg.DefaultTimeLimitMs <= 0 {
		return nil, fmt.Errorf("default time limit must be positive")
	}
	if cfg.DefaultMemoryMB <= 0 {
		return nil, fmt.Errorf("default memory limit must be positive")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = defaultSideEffectTimeout
	}
	return &Orchestrator{cfg: cfg}, nil
}

type judgeState int

const (
	stateDecoding judgeState = iota
	stateMarking
	stateFetching
	stateJudging
	stateAggregating
	statePersisting
	stateDone
)

func (s judgeState) String() string {
	switch s {
	case stateDecoding:
		return "decoding"
	case stateMarking:
		return "marking"
	case stateFetching:
		return "fetching"
	case stateJudging:
		return "judging"
	case stateAggregating:
		return "aggregating"
	case statePersisting:
		return "persisting"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// judgeRun is the mutable state of one Judge call.
type judgeRun struct {
	state      judgeState
	rawJobID   string
	id         uuid.UUID
	submission model.Submission
	cases      []model.TestCase
	next       int
	results    []model.TestResult
	result     model.SubmissionResult
}

// Judge runs one job to completion. A malformed job id returns an
// InvalidJobPayload error without touching persistence. Any later failure
// triggers a best-effort SYSTEM_ERROR status write and is returned.
func (o *Orchestrator) Judge(ctx context.Context, rawJobID string) (model.SubmissionResult, error) {
	run := &judgeRun{state: stateDecoding, rawJobID: rawJobID}
	for run.state != stateDone {
		if err := o.step(ctx, run); err != nil {
			if run.state == stateDecoding {
				return model.SubmissionResult{}, err
			}
			o.handleFailure(ctx, run, err)
			return model.SubmissionResult{}, err
		}
		if run.state == stateMarking {
			ctx = context.WithValue(ctx, contextkey.SubmissionID, run.id.String())
		}
	}
	return run.result, nil
}

func (o *Orchestrator) step(ctx context.Context, run *judgeRun) error {
	switch run.state {
	case stateDecoding:
		id, err := uuid.Parse(run.rawJobID)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidJobPayload, "Invalid submission ID format: %q", run.rawJobID)
		}
		run.id = id
		o.acquireLease(ctx, run.rawJobID)
		run.state = stateMarking

	case stateMarking:
		if err := o.cfg.Persistence.SetStatus(ctx, run.id, model.StatusJudging); err != nil {
			return err
		}
		o.saveProgress(ctx, run, model.StatusJudging, "")
		run.state = stateFetching

	case stateFetching:
		sub, err := o.cfg.Persistence.GetSubmission(ctx, run.id)
		if err != nil {
			return err
		}
		cases, err := o.cfg.Persistence.ListTestCases(ctx, sub.ProblemID)
		if err != nil {
			return err
		}
		run.submission, run.cases = sub, cases
		logger.Info(ctx, "judging submission",
			zap.String("language", sub.Language), zap.Int("test_cases", len(cases)))
		if len(cases) == 0 {
			logger.Warn(ctx, "problem has no test cases", zap.String("problem_id", sub.ProblemID.String()))
			run.result = model.SubmissionResult{
				SubmissionID: run.id,
				FinalVerdict: model.VerdictSystemError,
			}
			run.state = statePersisting
			return nil
		}
		run.state = stateJudging

	case stateJudging:
		tc := run.cases[run.next]
		timeMs, memMB := tc.EffectiveLimits(o.cfg.DefaultTimeLimitMs, o.cfg.DefaultMemoryMB)
		res, err := o.cfg.Runner.ExecuteTest(ctx, runner.TestRequest{
			Language:       run.submission.Language,
			Code:           run.submission.Code,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			TimeLimitMs:    timeMs,
			MemoryLimitMB:  memMB,
		})
		if err != nil {
			return err
		}
		res.TestCaseID = tc.ID
		run.results = append(run.results, res)
		run.next++
		logger.Debug(ctx, "test case judged",
			zap.String("test_case_id", tc.ID.String()),
			zap.String("verdict", res.Verdict.String()),
			zap.Float64("time_ms", res.ExecutionTimeMs))
		o.saveProgress(ctx, run, model.StatusJudging, "")
		o.acquireLease(ctx, run.rawJobID)
		if res.Verdict != model.VerdictAccepted || run.next == len(run.cases) {
			run.state = stateAggregating
		}

	case stateAggregating:
		run.result = aggregate(run.id, run.results, len(run.cases))
		run.state = statePersisting

	case statePersisting:
		r := run.result
		if err := o.cfg.Persistence.SetVerdict(ctx, run.id, r.FinalVerdict, r.TotalTimeMs, r.MaxMemoryKB); err != nil {
			return err
		}
		logger.Info(ctx, "submission judged",
			zap.String("verdict", r.FinalVerdict.String()),
			zap.Float64("total_time_ms", r.TotalTimeMs),
			zap.Int("passed", r.PassedTests()),
			zap.Int("executed", r.TotalTests()),
			zap.Int("total", len(run.cases)))
		o.releaseLease(ctx, run.rawJobID)
		o.afterPersist(ctx, run)
		run.state = stateDone
	}
	return nil
}

// aggregate folds produced results. ACCEPTED requires every case to have run and passed.
func aggregate(id uuid.UUID, results []model.TestResult, total int) model.SubmissionResult {
	out := model.SubmissionResult{
		SubmissionID: id,
		FinalVerdict: model.VerdictAccepted,
		TestResults:  results,
	}
	for _, tr := range results {
		out.TotalTimeMs += tr.ExecutionTimeMs
		if tr.MemoryUsedKB > out.MaxMemoryKB {
			out.MaxMemoryKB = tr.MemoryUsedKB
		}
		if tr.CompilationOutput != nil && out.CompilationOutput == nil {
			out.CompilationOutput = tr.CompilationOutput
		}
		if tr.Verdict != model.VerdictAccepted && out.FinalVerdict == model.VerdictAccepted {
			out.FinalVerdict = tr.Verdict
		}
	}
	if out.FinalVerdict == model.VerdictAccepted && len(results) != total {
		out.FinalVerdict = model.VerdictSystemError
	}
	return out
}

func (o *Orchestrator) handleFailure(ctx context.Context, run *judgeRun, err error) {
	code := appErr.GetCode(err)
	logger.Error(ctx, "judge pipeline failed",
		zap.String("state", run.state.String()),
		zap.Int("code", int(code)),
		zap.Error(err))
	o.cfg.Metrics.ObserveJobError(ctx, fmt.Sprint(int(code)))

	if o.cfg.Leaser != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Warn(ctx, "judge interrupted, lease kept for reclaim", zap.String("job_id", run.rawJobID))
		return
	}

	writeCtx, cancel := o.sideEffectContext(ctx)
	defer cancel()
	if saveErr := o.cfg.Persistence.SetStatus(writeCtx, run.id, model.StatusSystemError); saveErr != nil {
		logger.Warn(ctx, "update failure status failed", zap.Error(saveErr))
		return
	}
	o.saveProgress(ctx, run, model.StatusSystemError, model.VerdictSystemError)
	o.releaseLease(ctx, run.rawJobID)
}

// afterPersist runs the optional side effects. Failures are logged only.
func (o *Orchestrator) afterPersist(ctx context.Context, run *judgeRun) {
	r := run.result
	o.cfg.Metrics.ObserveSubmission(ctx, r.FinalVerdict.String(), r.TotalTests(),
		time.Duration(r.TotalTimeMs*float64(time.Millisecond)))
	o.saveProgress(ctx, run, r.FinalVerdict.String(), r.FinalVerdict)

	if o.cfg.RecordTestResults {
		writeCtx, cancel := o.sideEffectContext(ctx)
		if err := o.cfg.Persistence.SaveTestResults(writeCtx, run.id, r.TestResults); err != nil {
			logger.Warn(ctx, "record test results failed", zap.Error(err))
		}
		cancel()
	}
	if o.cfg.Events != nil {
		writeCtx, cancel := o.sideEffectContext(ctx)
		event := model.NewVerdictEvent(run.submission, r, o.cfg.Clock.Now())
		if err := o.cfg.Events.PublishVerdict(writeCtx, event); err != nil {
			logger.Warn(ctx, "publish verdict event failed", zap.Error(err))
		}
		cancel()
	}
	if o.cfg.Archive != nil {
		writeCtx, cancel := o.sideEffectContext(ctx)
		if key, err := o.cfg.Archive.Archive(writeCtx, r); err != nil {
			logger.Warn(ctx, "archive result failed", zap.Error(err))
		} else {
			logger.Debug(ctx, "result archived", zap.String("key", key))
		}
		cancel()
	}
}

func (o *Orchestrator) saveProgress(ctx context.Context, run *judgeRun, status string, verdict model.Verdict) {
	if o.cfg.Progress == nil {
		return
	}
	p := repository.Progress{
		SubmissionID: run.id,
		WorkerID:     o.cfg.WorkerID,
		Status:       status,
		Verdict:      verdict,
		TotalTests:   len(run.cases),
		DoneTests:    len(run.results),
		UpdatedAt:    o.cfg.Clock.Now().Unix(),
	}
	writeCtx, cancel := o.sideEffectContext(ctx)
	defer cancel()
	if err := o.cfg.Progress.Save(writeCtx, p); err != nil {
		logger.Debug(ctx, "save progress failed", zap.Error(err))
	}
}

// acquireLease records or refreshes the lease score with the current time.
func (o *Orchestrator) acquireLease(ctx context.Context, jobID string) {
	if o.cfg.Leaser == nil {
		return
	}
	if err := o.cfg.Leaser.Acquire(ctx, jobID, o.cfg.Clock.Now()); err != nil {
		logger.Warn(ctx, "record job lease failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) releaseLease(ctx context.Context, jobID string) {
	if o.cfg.Leaser == nil {
		return
	}
	writeCtx, cancel := o.sideEffectContext(ctx)
	defer cancel()
	if err := o.cfg.Leaser.Release(writeCtx, jobID); err != nil {
		logger.Warn(ctx, "release job lease failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// sideEffectContext outlives cancellation of ctx so shutdown still records terminal state.
func (o *Orchestrator) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SideEffectTimeout)
}
