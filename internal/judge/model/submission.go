package model

import "github.com/google/uuid"

// Submission status values written by the worker.
const (
	StatusJudging     = "JUDGING"
	StatusSystemError = "SYSTEM_ERROR"
)

// Submission is the row the worker judges. Only Status is mutated by the worker.
type Submission struct {
	ID        uuid.UUID
	ProblemID uuid.UUID
	UserID    uuid.UUID
	Language  string
	Code      string
	Status    string
}

// TestCase is one input/expected-output pair of a problem.
// Nil limits fall back to the configured defaults.
type TestCase struct {
	ID             uuid.UUID
	ProblemID      uuid.UUID
	Input          string
	ExpectedOutput string
	TimeLimitMs    *int64
	MemoryLimitMB  *int64
	IsSample       bool
}

// EffectiveLimits resolves the per-case overrides against the defaults.
func (tc TestCase) EffectiveLimits(defaultTimeMs, defaultMemoryMB int64) (int64, int64) {
	timeMs, memMB := defaultTimeMs, defaultMemoryMB
	if tc.TimeLimitMs != nil {
		timeMs = *tc.TimeLimitMs
	}
	if tc.MemoryLimitMB != nil {
		memMB = *tc.MemoryLimitMB
	}
	return timeMs, memMB
}
