// Package evaluator maps a finished run step to a verdict.
package evaluator

import (
	"strings"
	"time"

	"klausjudge/internal/judge/model"
	"klausjudge/internal/judge/sandbox/result"
)

const timeLimitExceeded = "Time limit exceeded"

// Evaluate applies, in order: timeout or elapsed over limit, non-zero exit,
// then whitespace-trimmed exact comparison. elapsed covers the whole step
// sequence, not just the run step. Memory is not measured.
func Evaluate(out result.RunResult, expected string, elapsed time.Duration, limitMs int64) model.TestResult {
	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	tr := model.TestResult{ExecutionTimeMs: elapsedMs}

	if out.TimedOut || elapsedMs > float64(limitMs) {
		tr.Verdict = model.VerdictTimeLimitExceeded
		tr.Output = model.StringPtr(out.Stdout)
		tr.ErrorMessage = model.StringPtr(timeLimitExceeded)
		return tr
	}
	if out.ExitCode != 0 {
		tr.Verdict = model.VerdictRuntimeError
		tr.Output = model.StringPtr(out.Stdout)
		tr.ErrorMessage = model.StringPtr(out.Stderr)
		return tr
	}

	actual := strings.TrimSpace(out.Stdout)
	want := strings.TrimSpace(expected)
	tr.Output = model.StringPtr(out.Stdout)
	if actual == want {
		tr.Verdict = model.VerdictAccepted
		return tr
	}
	tr.Verdict = model.VerdictWrongAnswer
	tr.ErrorMessage = model.StringPtr("Expected:\n" + want + "\n\nGot:\n" + actual)
	return tr
}
