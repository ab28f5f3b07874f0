// Package runner builds and runs one submission against one test case.
package runner

import (
	"context"

	"klausjudge/internal/judge/model"
)

// TestRequest describes one test execution.
type TestRequest struct {
	Language       string
	Code           string
	Input          string
	ExpectedOutput string
	TimeLimitMs    int64
	MemoryLimitMB  int64
}

// SandboxRunner executes a test and maps its outcome to a TestResult.
// Sandbox failures resolve to a verdict; only infrastructure failures return an error.
type SandboxRunner interface {
	ExecuteTest(ctx context.Context, req TestRequest) (model.TestResult, error)
}
