package util

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitLoggerWritesServiceFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := t.TempDir()
	logger, cleanup := InitLogger("debug", "worker", dir)
	if cleanup == nil {
		t.Fatalf("expected cleanup when logs dir is set")
	}
	logger.Info("hello", "query_id", "q-1")
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "worker.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"query_id":"q-1"`) || !strings.Contains(string(data), `"service":"worker"`) {
		t.Fatalf("unexpected log line: %s", data)
	}
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
	custom := slog.Default().With("k", "v")
	if LoggerFromContext(ContextWithLogger(context.Background(), custom)) != custom {
		t.Fatalf("expected stored logger")
	}
}
