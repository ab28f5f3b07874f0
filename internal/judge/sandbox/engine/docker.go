package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"klausjudge/internal/judge/sandbox/result"
	"klausjudge/internal/judge/sandbox/spec"
	appErr "klausjudge/pkg/errors"
	"klausjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const timeLimitMessage = "Time limit exceeded"

// DockerEngine runs each step as one `docker run` client process.
type DockerEngine struct {
	cfg Config
}

// NewDockerEngine creates a docker-backed engine.
func NewDockerEngine(cfg Config) *DockerEngine {
	return &DockerEngine{cfg: cfg.withDefaults()}
}

// BuildArgs returns the docker CLI arguments for a step.
func BuildArgs(step spec.StepSpec) []string {
	args := []string{"run", "--rm", "-i"}
	if step.Name != "" {
		args = append(args, "--name", step.Name)
	}
	args = append(args, "--network=none")
	if step.Limits.MemoryMB > 0 {
		args = append(args, "--memory="+strconv.FormatInt(step.Limits.MemoryMB, 10)+"m")
	}
	cpus := step.Limits.CPUs
	if cpus <= 0 {
		cpus = 1
	}
	args = append(args, "--cpus="+strconv.Itoa(cpus))
	for _, m := range step.BindMounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		args = append(args, "-v", m.Source+":"+m.Target+":"+mode)
	}
	if step.WorkDir != "" {
		args = append(args, "-w", step.WorkDir)
	}
	for _, env := range step.Env {
		args = append(args, "-e", env)
	}
	args = append(args, step.Image)
	return append(args, step.Cmd...)
}

func validateStep(step spec.StepSpec) error {
	if step.Image == "" {
		return appErr.ValidationError("image", "required")
	}
	if len(step.Cmd) == 0 {
		return appErr.ValidationError("cmd", "required")
	}
	if step.Limits.WallTimeMs <= 0 {
		return appErr.ValidationError("wall_time_ms", "must be positive")
	}
	return nil
}

// Run starts the docker client, pipes stdin, and races completion against the
// step's wall limit. On timeout or cancellation the client's process group is
// killed and the container is killed by name before Run returns.
func (e *DockerEngine) Run(ctx context.Context, step spec.StepSpec) (result.RunResult, error) {
	if err := validateStep(step); err != nil {
		return result.RunResult{}, err
	}

	cmd := exec.Command(e.cfg.Binary, BuildArgs(step)...)
	setProcessGroup(cmd)
	cmd.Stdin = strings.NewReader(step.Stdin)
	stdout := newCappedBuffer(e.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(e.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = defaultWaitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxSpawnError, "Execution error: %v", err)
	}

	var timedOut, cancelled atomic.Bool
	done := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		timer := time.NewTimer(time.Duration(step.Limits.WallTimeMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-ctx.Done():
			cancelled.Store(true)
		case <-timer.C:
			timedOut.Store(true)
		}
		killProcessGroup(cmd.Process.Pid)
		e.killContainer(ctx, step.Name)
	}()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	close(done)
	<-watcherDone

	res := result.RunResult{
		ExitCode:  exitCodeFromErr(waitErr, cmd.ProcessState),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Elapsed:   elapsed,
		TimedOut:  timedOut.Load(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if res.TimedOut {
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
		if res.Stderr == "" {
			res.Stderr = timeLimitMessage
		}
	}
	if cancelled.Load() {
		return res, ctx.Err()
	}
	return res, nil
}

// Kill stops a running container by name.
func (e *DockerEngine) Kill(ctx context.Context, name string) error {
	if name == "" {
		return appErr.ValidationError("name", "required")
	}
	out, err := exec.CommandContext(ctx, e.cfg.Binary, "kill", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s kill %s: %w: %s", e.cfg.Binary, name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *DockerEngine) killContainer(ctx context.Context, name string) {
	if name == "" {
		return
	}
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.KillTimeout)
	defer cancel()
	// The container may already be gone when the client died first.
	if err := e.Kill(killCtx, name); err != nil {
		logger.Debug(ctx, "kill container failed", zap.String("container", name), zap.Error(err))
	}
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
