// Package engine runs sandbox steps through an external container runtime.
package engine

import (
	"context"

	"klausjudge/internal/judge/sandbox/result"
	"klausjudge/internal/judge/sandbox/spec"
)

// Engine executes a StepSpec inside an isolated container.
// Run returns only after the step's process has been reaped.
type Engine interface {
	Run(ctx context.Context, step spec.StepSpec) (result.RunResult, error)
	Kill(ctx context.Context, name string) error
}
