// Package spec defines the execution specification and resource limits.
package spec

// ContainerWorkDir is where the scratch directory is mounted inside the container.
const ContainerWorkDir = "/app"

// ResourceLimit describes hard limits enforced by the container runtime.
type ResourceLimit struct {
	WallTimeMs int64
	MemoryMB   int64
	CPUs       int
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// StepSpec is one isolated process invocation: a compile or a run.
type StepSpec struct {
	// Name is the unique container name used to kill the step.
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	Stdin      string
	WorkDir    string
	BindMounts []MountSpec
	Limits     ResourceLimit
}
