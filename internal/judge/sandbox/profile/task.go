package profile

import "klausjudge/internal/judge/sandbox/spec"

// TaskType identifies the step kind.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)

// CompileLimits is the fixed ceiling for compile steps, independent of the submission's limits.
var CompileLimits = spec.ResourceLimit{WallTimeMs: 10_000, MemoryMB: 1024, CPUs: 1}

