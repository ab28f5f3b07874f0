// Package result defines the raw output of one sandbox step.
package result

import "time"

// RunResult captures what a step produced before any verdict mapping.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	TimedOut bool
	// Truncated is set when stdout or stderr hit the capture cap.
	Truncated bool
}

