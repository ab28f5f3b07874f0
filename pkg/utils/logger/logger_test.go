package logger_test

import (
	"context"
	"path/filepath"
	"testing"

	"klausjudge/pkg/utils/contextkey"
	"klausjudge/pkg/utils/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := logger.NewLogger(logger.Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	l, err := logger.NewLogger(logger.Config{Level: "debug", JSONFormat: true, FilePath: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	_ = l.Sync()
}

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.SetGlobal(logger.NewWithZap(zap.New(core)))
	defer logger.SetGlobal(prev)

	ctx := context.WithValue(context.Background(), contextkey.SubmissionID, "sub-1")
	ctx = context.WithValue(ctx, contextkey.WorkerID, 2)
	logger.Info(ctx, "judging", zap.Int("tests", 3))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["submission_id"] != "sub-1" {
		t.Fatalf("expected submission_id field, got %v", fields)
	}
	if fields["tests"] != int64(3) {
		t.Fatalf("expected tests field, got %v", fields["tests"])
	}
}

func TestNilGlobalIsSilent(t *testing.T) {
	prev := logger.SetGlobal(nil)
	defer logger.SetGlobal(prev)
	logger.Warn(context.Background(), "dropped")
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync with nil logger: %v", err)
	}
}
