package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriterBackedLoggerEmitsJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(WithWriter(&buf), WithRunID("run-7"), WithBackend("codex"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Logger.Info("invocation started", "attempt", 1)

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\nline: %s", err, line)
	}
	if record["run_id"] != "run-7" || record["backend"] != "codex" {
		t.Fatalf("record = %v", record)
	}
	if record["msg"] != "invocation started" {
		t.Fatalf("msg = %v", record["msg"])
	}
}

func TestWithRunIDRebindsField(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(WithWriter(&buf))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.WithRunID("run-42").Logger.Info("rebound")

	if !strings.Contains(buf.String(), "run-42") {
		t.Fatalf("output missing rebound run id: %s", buf.String())
	}
}

func TestFileBackedLoggerCreatesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	logger, err := New(WithRunID("run-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = logger.Close() }()

	if logger.Path() == "" {
		t.Fatal("file-backed logger must report a path")
	}
	if !strings.Contains(logger.Path(), ".amx") {
		t.Fatalf("log path = %q", logger.Path())
	}
}

func TestNilLoggerMethodsAreSafe(t *testing.T) {
	t.Parallel()

	var logger *RuntimeLogger
	if logger.WithRunID("x") != nil {
		t.Fatal("nil receiver must stay nil")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
	if logger.Path() != "" {
		t.Fatal("Path on nil must be empty")
	}
}
