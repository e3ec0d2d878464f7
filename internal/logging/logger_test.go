package logging_test

import (
	"testing"

	"github.com/septivank/metering-gateway/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerHonoursLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	logger, err := logging.NewLogger("metering-gateway")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level enabled")
	}
}

func TestWithRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	logging.WithRequestID(base, "req-1").Info("with id")
	logging.WithRequestID(base, "").Info("without id")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != "req-1" {
		t.Errorf("expected request_id req-1, got %v", got)
	}
	if _, ok := entries[1].ContextMap()["request_id"]; ok {
		t.Error("expected no request_id field for an empty id")
	}
}
