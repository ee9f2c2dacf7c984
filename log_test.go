package spanz

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorLoggerRateLimit(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := newErrorLogger(zap.New(core))

	for i := 0; i < 50; i++ {
		l.Error("agent unreachable")
	}

	// The burst gets through, the rest is suppressed.
	if got := logs.Len(); got != 5 {
		t.Errorf("Expected 5 logged errors, got %d", got)
	}
	if got := l.suppressed.Load(); got != 45 {
		t.Errorf("Expected 45 suppressed errors, got %d", got)
	}
}

func TestErrorLoggerReportsSuppressed(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := newErrorLogger(zap.New(core))
	l.suppressed.Store(3)

	l.Error("agent unreachable")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["suppressed"]; got != int64(3) {
		t.Errorf("Expected suppressed=3, got %v", got)
	}
	if l.suppressed.Load() != 0 {
		t.Errorf("Expected suppressed counter reset, got %d", l.suppressed.Load())
	}
}

func TestNewLogger(t *testing.T) {
	if logger := newLogger("debug"); !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug logger to enable debug")
	}
	if logger := newLogger("error"); logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("Expected error logger to disable warn")
	}
	// Invalid levels fall back to a silent logger.
	if logger := newLogger("loud"); logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("Expected no-op logger for invalid level")
	}
}
