package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentmux/amx/internal/backend"
	"github.com/agentmux/amx/internal/config"
	"github.com/agentmux/amx/internal/engine"
	"github.com/agentmux/amx/internal/events"
	"github.com/agentmux/amx/internal/logging"
)

type stubInvoker struct {
	lastRequest engine.Request
	outcome     engine.Outcome
}

func (s *stubInvoker) Invoke(_ context.Context, req engine.Request) engine.Outcome {
	s.lastRequest = req
	return s.outcome
}

func TestInvokeCommandPrintsOutcomeJSON(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{outcome: engine.Outcome{
		Success:   true,
		Output:    "done",
		SessionID: "sess-1",
		Duration:  "0m2s",
	}}
	cmd := newInvokeCommand(stub)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"claude", "--prompt", "say hello", "--idle-timeout", "30s", "--max-retries", "2"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var decoded engine.Outcome
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if !decoded.Success || decoded.SessionID != "sess-1" {
		t.Fatalf("decoded = %+v", decoded)
	}

	if stub.lastRequest.Backend != "claude" || stub.lastRequest.Prompt != "say hello" {
		t.Fatalf("request = %+v", stub.lastRequest)
	}
	if stub.lastRequest.IdleTimeout != 30*time.Second {
		t.Fatalf("idle timeout = %v", stub.lastRequest.IdleTimeout)
	}
	if stub.lastRequest.MaxRetries == nil || *stub.lastRequest.MaxRetries != 2 {
		t.Fatalf("max retries = %v", stub.lastRequest.MaxRetries)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if stub.lastRequest.Workdir != wd {
		t.Fatalf("workdir = %q, want the current directory %q", stub.lastRequest.Workdir, wd)
	}
}

func TestInvokeCommandHonorsWorkdirFlag(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{outcome: engine.Outcome{Success: true}}
	cmd := newInvokeCommand(stub)
	cmd.SetOut(&bytes.Buffer{})
	dir := t.TempDir()
	cmd.SetArgs([]string{"claude", "--prompt", "hi", "--workdir", dir})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if stub.lastRequest.Workdir != dir {
		t.Fatalf("workdir = %q, want %q", stub.lastRequest.Workdir, dir)
	}
}

func TestEventBusFeedsRuntimeLog(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	logger, err := logging.New(logging.WithWriter(&buf))
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	bus := newEventBus(logger)
	bus.Publish(events.Event{Type: events.TypeAttemptStarted, Backend: "codex", RunID: "run-1"})

	deadline := time.Now().Add(time.Second)
	for {
		if strings.Contains(buf.String(), events.TypeAttemptStarted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never reached the log: %s", buf.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(buf.String(), "codex") {
		t.Fatalf("log entry missing backend: %s", buf.String())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInvokeCommandDefaultLeavesRetriesUnset(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{outcome: engine.Outcome{Success: true}}
	cmd := newInvokeCommand(stub)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"codex", "--prompt", "hi"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if stub.lastRequest.MaxRetries != nil {
		t.Fatalf("max retries = %v, want nil", stub.lastRequest.MaxRetries)
	}
}

func TestInvokeCommandFailureSetsExitError(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{outcome: engine.Outcome{
		Success:   false,
		Error:     "backend exited with code 1",
		ErrorKind: "upstream_error",
	}}
	cmd := newInvokeCommand(stub)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"gemini", "--prompt", "hi"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("failed invocation must return an error for the exit status")
	}
	if !strings.Contains(err.Error(), "upstream_error") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "backend exited with code 1") {
		t.Fatalf("outcome JSON missing diagnostics: %s", out.String())
	}
}

func TestInvokeCommandReadsPromptFromStdin(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{outcome: engine.Outcome{Success: true}}
	cmd := newInvokeCommand(stub)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("multi\nline prompt\n"))
	cmd.SetArgs([]string{"claude"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if stub.lastRequest.Prompt != "multi\nline prompt\n" {
		t.Fatalf("prompt = %q", stub.lastRequest.Prompt)
	}
}

func TestInvokeCommandRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	stub := &stubInvoker{}
	cmd := newInvokeCommand(stub)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("  \n"))
	cmd.SetArgs([]string{"claude"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("empty prompt must be rejected before invoking")
	}
}

func TestDoctorReportListsEveryBackend(t *testing.T) {
	t.Parallel()

	availability := backend.Availability{"claude": true, "coder": true, "codex": false, "gemini": true}
	cfg := &config.Config{Backends: map[string]config.Backend{
		"coder": {Model: "haiku"},
	}}

	report := doctorReport(availability, cfg)
	for _, id := range backend.IDs() {
		if !strings.Contains(report, id) {
			t.Fatalf("report missing backend %q:\n%s", id, report)
		}
	}
	if !strings.Contains(report, "missing executable") {
		t.Fatalf("report missing codex status:\n%s", report)
	}
	if !strings.Contains(report, "api_token not configured") {
		t.Fatalf("report missing coder credential note:\n%s", report)
	}
	if !strings.Contains(report, "model haiku") {
		t.Fatalf("report missing model note:\n%s", report)
	}
}

func TestBackendsCommandListsRegistry(t *testing.T) {
	t.Parallel()

	cmd := newBackendsCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, id := range backend.IDs() {
		if !strings.Contains(out.String(), id) {
			t.Fatalf("listing missing %q:\n%s", id, out.String())
		}
	}
}
