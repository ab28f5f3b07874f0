package model

import (
	"time"

	"github.com/google/uuid"
)

// TestResult is produced once per executed test case.
// MemoryUsedKB is not sampled and stays 0.
type TestResult struct {
	TestCaseID      uuid.UUID `json:"test_case_id"`
	Verdict         Verdict   `json:"verdict"`
	ExecutionTimeMs float64   `json:"execution_time_ms"`
	MemoryUsedKB    int64     `json:"memory_used_kb"`
	Output          *string   `json:"output,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`

	// CompilationOutput is set when a compile step produced diagnostics.
	CompilationOutput *string `json:"-"`
}

// SubmissionResult aggregates the executed tests of one submission.
type SubmissionResult struct {
	SubmissionID      uuid.UUID    `json:"submission_id"`
	FinalVerdict      Verdict      `json:"final_verdict"`
	TotalTimeMs       float64      `json:"total_time_ms"`
	MaxMemoryKB       int64        `json:"max_memory_kb"`
	TestResults       []TestResult `json:"test_results"`
	CompilationOutput *string      `json:"compilation_output,omitempty"`
}

// PassedTests counts accepted results.
func (r SubmissionResult) PassedTests() int {
	n := 0
	for _, tr := range r.TestResults {
		if tr.Verdict == VerdictAccepted {
			n++
		}
	}
	return n
}

// TotalTests counts produced results, not fetched cases.
func (r SubmissionResult) TotalTests() int {
	return len(r.TestResults)
}

// VerdictEvent is published after a verdict is persisted.
type VerdictEvent struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	ProblemID    uuid.UUID `json:"problem_id"`
	UserID       uuid.UUID `json:"user_id"`
	Language     string    `json:"language"`
	Verdict      Verdict   `json:"verdict"`
	TotalTimeMs  int64     `json:"total_time_ms"`
	MaxMemoryKB  int64     `json:"max_memory_kb"`
	PassedTests  int       `json:"passed_tests"`
	TotalTests   int       `json:"total_tests"`
	JudgedAt     time.Time `json:"judged_at"`
}

// NewVerdictEvent projects a judged submission into an event.
func NewVerdictEvent(sub Submission, res SubmissionResult, judgedAt time.Time) VerdictEvent {
	return VerdictEvent{
		SubmissionID: sub.ID,
		ProblemID:    sub.ProblemID,
		UserID:       sub.UserID,
		Language:     sub.Language,
		Verdict:      res.FinalVerdict,
		TotalTimeMs:  int64(res.TotalTimeMs),
		MaxMemoryKB:  res.MaxMemoryKB,
		PassedTests:  res.PassedTests(),
		TotalTests:   res.TotalTests(),
		JudgedAt:     judgedAt,
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
