//go:build linux

package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"klausjudge/internal/judge/sandbox/spec"
	appErr "klausjudge/pkg/errors"
)

// fakeDocker writes a shell script standing in for the docker CLI.
// `kill <name>` calls are appended to the returned log file.
func fakeDocker(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	killLog := filepath.Join(dir, "killed")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = kill ]; then echo \"$2\" >> " + killLog + "; exit 0; fi\n" +
		body + "\n"
	path := filepath.Join(dir, "docker")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake docker: %v", err)
	}
	return path, killLog
}

func testStep(limitMs int64) spec.StepSpec {
	return spec.StepSpec{
		Name:   "klaus-judge-test",
		Image:  "img",
		Cmd:    []string{"run"},
		Limits: spec.ResourceLimit{WallTimeMs: limitMs, MemoryMB: 64, CPUs: 1},
	}
}

func TestRunPipesStdin(t *testing.T) {
	bin, _ := fakeDocker(t, "exec cat")
	e := NewDockerEngine(Config{Binary: bin})
	step := testStep(5000)
	step.Stdin = "1 2\n"
	res, err := e.Run(context.Background(), step)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "1 2\n" || res.TimedOut {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunCapturesExitCodeAndStderr(t *testing.T) {
	bin, _ := fakeDocker(t, "echo boom >&2\nexit 3")
	res, err := NewDockerEngine(Config{Binary: bin}).Run(context.Background(), testStep(5000))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 || strings.TrimSpace(res.Stderr) != "boom" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunTimeoutKillsAndReaps(t *testing.T) {
	bin, killLog := fakeDocker(t, "sleep 30")
	e := NewDockerEngine(Config{Binary: bin})

	start := time.Now()
	res, err := e.Run(context.Background(), testStep(200))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("run did not return promptly after timeout")
	}
	if !res.TimedOut || res.ExitCode == 0 {
		t.Fatalf("expected timed out result, got %+v", res)
	}
	if res.Stderr != timeLimitMessage {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
	data, err := os.ReadFile(killLog)
	if err != nil || strings.TrimSpace(string(data)) != "klaus-judge-test" {
		t.Fatalf("container was not killed by name: %q (%v)", data, err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	bin, _ := fakeDocker(t, "sleep 30")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	res, err := NewDockerEngine(Config{Binary: bin}).Run(ctx, testStep(20_000))
	if err == nil {
		t.Fatalf("expected context error")
	}
	if res.TimedOut {
		t.Fatalf("cancellation is not a timeout")
	}
}

func TestRunOutputCap(t *testing.T) {
	bin, _ := fakeDocker(t, "printf 'abcdefgh'")
	res, err := NewDockerEngine(Config{Binary: bin, MaxOutputBytes: 4}).Run(context.Background(), testStep(5000))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "abcd" || !res.Truncated {
		t.Fatalf("unexpected capped output %+v", res)
	}
}

func TestRunSpawnError(t *testing.T) {
	e := NewDockerEngine(Config{Binary: filepath.Join(t.TempDir(), "missing-docker")})
	_, err := e.Run(context.Background(), testStep(1000))
	if appErr.GetCode(err) != appErr.SandboxSpawnError {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "Execution error: ") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
