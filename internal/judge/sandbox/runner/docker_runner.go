package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"klausjudge/internal/judge/model"
	"klausjudge/internal/judge/sandbox/engine"
	"klausjudge/internal/judge/sandbox/evaluator"
	"klausjudge/internal/judge/sandbox/observer"
	"klausjudge/internal/judge/sandbox/profile"
	"klausjudge/internal/judge/sandbox/result"
	"klausjudge/internal/judge/sandbox/spec"
	appErr "klausjudge/pkg/errors"
	"klausjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	scratchPrefix          = "run_"
	containerPrefix        = "klaus-judge-"
	compileTimeoutMessage  = "Compilation time limit exceeded"
	defaultCompileFailText = "Compilation failed"
)

// Config controls the scratch area and its cleanup policy.
type Config struct {
	WorkDir string
	// CleanupOnSuccess removes the scratch dir after an ACCEPTED test.
	CleanupOnSuccess bool
	// CleanupFailed removes it after any other verdict.
	CleanupFailed bool
}

// DockerRunner implements SandboxRunner on an engine.Engine.
type DockerRunner struct {
	eng     engine.Engine
	langs   *profile.Repository
	metrics observer.MetricsRecorder
	cfg     Config
	newID   func() string
}

// NewDockerRunner creates a runner.
func NewDockerRunner(eng engine.Engine, langs *profile.Repository, cfg Config) *DockerRunner {
	return NewDockerRunnerWithObserver(eng, langs, cfg, observer.NoopMetricsRecorder{})
}

// NewDockerRunnerWithObserver creates a runner with metrics hooks.
func NewDockerRunnerWithObserver(eng engine.Engine, langs *profile.Repository, cfg Config, metrics observer.MetricsRecorder) *DockerRunner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	if langs == nil {
		langs = profile.NewDefaultRepository()
	}
	return &DockerRunner{
		eng:     eng,
		langs:   langs,
		metrics: metrics,
		cfg:     cfg,
		newID:   func() string { return uuid.NewString() },
	}
}

func (r *DockerRunner) ExecuteTest(ctx context.Context, req TestRequest) (model.TestResult, error) {
	if err := validateTestRequest(req); err != nil {
		return model.TestResult{}, err
	}
	lang, err := r.langs.Lookup(req.Language)
	if err != nil {
		return systemError(err.Error(), 0), nil
	}

	runID := r.newID()
	ws, err := createWorkspace(r.cfg.WorkDir, runID)
	if err != nil {
		return model.TestResult{}, err
	}
	if err := ws.writeSource(lang.SourceFile, req.Code); err != nil {
		ws.remove(ctx)
		return model.TestResult{}, err
	}

	res, err := r.executeSteps(ctx, lang, ws, runID, req)
	if err != nil {
		ws.remove(ctx)
		return model.TestResult{}, err
	}
	if r.shouldCleanup(res.Verdict) {
		ws.remove(ctx)
	}
	return res, nil
}

// executeSteps dispatches on the language pipeline. Elapsed spans all steps.
func (r *DockerRunner) executeSteps(ctx context.Context, lang profile.LanguageSpec, ws workspace, runID string, req TestRequest) (model.TestResult, error) {
	start := time.Now()

	if lang.Pipeline == profile.CompileThenRun {
		cmd, err := lang.CompileCommand()
		if err != nil {
			return model.TestResult{}, err
		}
		step := r.step(lang, ws, runID, profile.TaskTypeCompile, cmd, "", profile.CompileLimits)
		out, err := r.eng.Run(ctx, step)
		if res, done, err := stepFailure(err, time.Since(start)); done {
			return res, err
		}
		ok := !out.TimedOut && out.ExitCode == 0
		r.metrics.ObserveCompile(ctx, lang.ID, ok, out.Elapsed)
		if !ok {
			return compilationError(out, time.Since(start)), nil
		}
	}

	cmd, err := lang.RunCommand()
	if err != nil {
		return model.TestResult{}, err
	}
	limits := spec.ResourceLimit{WallTimeMs: req.TimeLimitMs, MemoryMB: req.MemoryLimitMB, CPUs: 1}
	step := r.step(lang, ws, runID, profile.TaskTypeRun, cmd, req.Input, limits)
	out, err := r.eng.Run(ctx, step)
	elapsed := time.Since(start)
	if res, done, err := stepFailure(err, elapsed); done {
		return res, err
	}
	if out.Truncated {
		logger.Debug(ctx, "step output truncated", zap.String("language", lang.ID))
	}
	res := evaluator.Evaluate(out, req.ExpectedOutput, elapsed, req.TimeLimitMs)
	r.metrics.ObserveRun(ctx, lang.ID, res.Verdict.String(), elapsed)
	return res, nil
}

func (r *DockerRunner) step(lang profile.LanguageSpec, ws workspace, runID string, task profile.TaskType, cmd []string, stdin string, limits spec.ResourceLimit) spec.StepSpec {
	return spec.StepSpec{
		Name:    containerPrefix + string(task) + "-" + runID,
		Image:   lang.Image,
		Cmd:     cmd,
		Env:     lang.Env,
		Stdin:   stdin,
		WorkDir: spec.ContainerWorkDir,
		BindMounts: []spec.MountSpec{{
			Source: ws.dir,
			Target: spec.ContainerWorkDir,
		}},
		Limits: limits,
	}
}

func (r *DockerRunner) shouldCleanup(verdict model.Verdict) bool {
	if verdict == model.VerdictAccepted {
		return r.cfg.CleanupOnSuccess
	}
	return r.cfg.CleanupFailed
}

// stepFailure maps an engine error. A spawn failure becomes a SYSTEM_ERROR result;
// anything else (cancellation, bad step) is returned to the caller.
func stepFailure(err error, elapsed time.Duration) (model.TestResult, bool, error) {
	if err == nil {
		return model.TestResult{}, false, nil
	}
	if appErr.Is(err, appErr.SandboxSpawnError) {
		msg := err.Error()
		var e *appErr.Error
		if errors.As(err, &e) {
			msg = e.Message
		}
		return systemError(msg, elapsed), true, nil
	}
	return model.TestResult{}, true, err
}

func compilationError(out result.RunResult, elapsed time.Duration) model.TestResult {
	msg := out.Stderr
	if out.TimedOut {
		msg = compileTimeoutMessage
	} else if msg == "" {
		msg = defaultCompileFailText
	}
	return model.TestResult{
		Verdict:           model.VerdictCompilationError,
		ExecutionTimeMs:   durationMs(elapsed),
		Output:            model.StringPtr(out.Stdout),
		ErrorMessage:      model.StringPtr(msg),
		CompilationOutput: model.StringPtr(out.Stderr),
	}
}

func systemError(msg string, elapsed time.Duration) model.TestResult {
	return model.TestResult{
		Verdict:         model.VerdictSystemError,
		ExecutionTimeMs: durationMs(elapsed),
		ErrorMessage:    model.StringPtr(msg),
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func validateTestRequest(req TestRequest) error {
	if req.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if req.TimeLimitMs <= 0 {
		return appErr.ValidationError("time_limit_ms", "must be positive")
	}
	if req.MemoryLimitMB <= 0 {
		return appErr.ValidationError("memory_limit_mb", "must be positive")
	}
	return nil
}

type workspace struct {
	dir string
}

func createWorkspace(root, runID string) (workspace, error) {
	if root == "" {
		return workspace{}, appErr.ValidationError("work_dir", "required")
	}
	dir := filepath.Join(root, scratchPrefix+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return workspace{}, appErr.Wrapf(err, appErr.WorkspaceError, "create scratch dir failed")
	}
	return workspace{dir: dir}, nil
}

func (w workspace) writeSource(name, code string) error {
	if err := os.WriteFile(filepath.Join(w.dir, name), []byte(code), 0o644); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "write source failed")
	}
	return nil
}

func (w workspace) remove(ctx context.Context) {
	if err := os.RemoveAll(w.dir); err != nil {
		logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", w.dir), zap.Error(err))
	}
}
