package engine

import (
	"reflect"
	"testing"

	"klausjudge/internal/judge/sandbox/spec"
	appErr "klausjudge/pkg/errors"
)

func TestBuildArgs(t *testing.T) {
	step := spec.StepSpec{
		Name:    "klaus-judge-run-1",
		Image:   "klaus-judge-cpp:latest",
		Cmd:     []string{"./solution"},
		WorkDir: spec.ContainerWorkDir,
		BindMounts: []spec.MountSpec{
			{Source: "/tmp/judge/run_1", Target: spec.ContainerWorkDir},
		},
		Limits: spec.ResourceLimit{WallTimeMs: 1000, MemoryMB: 256, CPUs: 1},
	}
	want := []string{
		"run", "--rm", "-i", "--name", "klaus-judge-run-1", "--network=none",
		"--memory=256m", "--cpus=1", "-v", "/tmp/judge/run_1:/app:rw", "-w", "/app",
		"klaus-judge-cpp:latest", "./solution",
	}
	if got := BuildArgs(step); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args\n got: %v\nwant: %v", got, want)
	}
}

func TestBuildArgsDefaultsCPUAndReadOnlyMount(t *testing.T) {
	step := spec.StepSpec{
		Image:      "img",
		Cmd:        []string{"true"},
		BindMounts: []spec.MountSpec{{Source: "/a", Target: "/b", ReadOnly: true}},
		Env:        []string{"LANG=C"},
	}
	want := []string{"run", "--rm", "-i", "--network=none", "--cpus=1", "-v", "/a:/b:ro", "-e", "LANG=C", "img", "true"}
	if got := BuildArgs(step); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args %v", got)
	}
}

func TestValidateStep(t *testing.T) {
	cases := []spec.StepSpec{
		{Cmd: []string{"x"}, Limits: spec.ResourceLimit{WallTimeMs: 1}},
		{Image: "i", Limits: spec.ResourceLimit{WallTimeMs: 1}},
		{Image: "i", Cmd: []string{"x"}},
	}
	for i, step := range cases {
		if err := validateStep(step); appErr.GetCode(err) != appErr.ValidationFailed {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("abcdefgh"))
	if err != nil || n != 8 {
		t.Fatalf("write must report full length, got %d (%v)", n, err)
	}
	_, _ = b.Write([]byte("ij"))
	if b.String() != "abcd" || !b.Truncated() {
		t.Fatalf("unexpected buffer %q truncated=%v", b.String(), b.Truncated())
	}

	small := newCappedBuffer(10)
	_, _ = small.Write([]byte("ok"))
	if small.Truncated() {
		t.Fatalf("buffer under cap must not be truncated")
	}
}
