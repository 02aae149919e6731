package backend

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sandbox controls the filesystem policy requested from a backend executable.
type Sandbox string

const (
	// SandboxReadOnly requests a read-only workspace.
	SandboxReadOnly Sandbox = "read-only"
	// SandboxWorkspaceWrite allows writes inside the working directory tree.
	SandboxWorkspaceWrite Sandbox = "workspace-write"
	// SandboxDangerFullAccess disables sandboxing entirely.
	SandboxDangerFullAccess Sandbox = "danger-full-access"
)

// ParseSandbox validates a caller-supplied sandbox mode.
func ParseSandbox(value string) (Sandbox, error) {
	switch Sandbox(strings.ToLower(strings.TrimSpace(value))) {
	case SandboxReadOnly:
		return SandboxReadOnly, nil
	case SandboxWorkspaceWrite:
		return SandboxWorkspaceWrite, nil
	case SandboxDangerFullAccess:
		return SandboxDangerFullAccess, nil
	default:
		return "", fmt.Errorf("unsupported sandbox mode %q", value)
	}
}

const (
	// DefaultIdleTimeout bounds silence between output chunks.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultMaxDuration is the total wall-clock hard cap per attempt.
	DefaultMaxDuration = 30 * time.Minute
)

const claudeSystemPrompt = "You are a senior technical expert and consultant. " +
	"Provide deep technical insight and architectural advice, and carry out " +
	"complex refactoring or prototyping when asked. Stay professional, " +
	"objective, and rigorous. Report only the task result and the changes " +
	"that were necessary."

const coderSystemPrompt = "You are a focused code execution assistant. " +
	"Execute the task directly without small talk or follow-up questions. " +
	"Follow code best practices and keep changes within the task scope. " +
	"Report only the result and the changes that were necessary."

// Descriptor is the static metadata for one supported backend. Descriptors
// are immutable after process start and resolved through the registry.
type Descriptor struct {
	ID                 string
	Executable         string
	DefaultSandbox     Sandbox
	DefaultMaxRetries  int
	DefaultIdleTimeout time.Duration

	// RequiresCredentials marks backends that cannot run without an API
	// token and base URL from configuration. Locally authenticated CLIs
	// leave this unset.
	RequiresCredentials bool
}

// CommandSpec carries the per-invocation values that shape the argv.
type CommandSpec struct {
	Sandbox      Sandbox
	Model        string
	Continuation string
}

var registry = map[string]Descriptor{
	"claude": {
		ID:                 "claude",
		Executable:         "claude",
		DefaultSandbox:     SandboxWorkspaceWrite,
		DefaultMaxRetries:  0,
		DefaultIdleTimeout: DefaultIdleTimeout,
	},
	"coder": {
		ID:                  "coder",
		Executable:          "claude",
		DefaultSandbox:      SandboxWorkspaceWrite,
		DefaultMaxRetries:   0,
		DefaultIdleTimeout:  DefaultIdleTimeout,
		RequiresCredentials: true,
	},
	"codex": {
		ID:                 "codex",
		Executable:         "codex",
		DefaultSandbox:     SandboxReadOnly,
		DefaultMaxRetries:  1,
		DefaultIdleTimeout: DefaultIdleTimeout,
	},
	"gemini": {
		ID:                 "gemini",
		Executable:         "gemini",
		DefaultSandbox:     SandboxWorkspaceWrite,
		DefaultMaxRetries:  1,
		DefaultIdleTimeout: DefaultIdleTimeout,
	},
}

// Lookup resolves a backend identifier against the closed registry.
func Lookup(id string) (Descriptor, bool) {
	desc, ok := registry[strings.ToLower(strings.TrimSpace(id))]
	return desc, ok
}

// IDs returns the supported backend identifiers in deterministic order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Args builds the argv (without the executable) for one invocation attempt.
// The prompt itself is never part of the argv; it travels on stdin.
func (d Descriptor) Args(spec CommandSpec) []string {
	switch d.ID {
	case "claude", "coder":
		return claudeArgs(d.ID, spec)
	case "codex":
		return codexArgs(spec)
	case "gemini":
		return geminiArgs(spec)
	default:
		return nil
	}
}

func claudeArgs(id string, spec CommandSpec) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--setting-sources", "project",
	}
	if spec.Sandbox != SandboxReadOnly {
		args = append(args, "--dangerously-skip-permissions")
	}
	rolePrompt := claudeSystemPrompt
	if id == "coder" {
		rolePrompt = coderSystemPrompt
	}
	args = append(args, "--append-system-prompt", rolePrompt)
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.Continuation != "" {
		args = append(args, "-r", spec.Continuation)
	}
	return args
}

func codexArgs(spec CommandSpec) []string {
	args := []string{"exec"}
	if spec.Continuation != "" {
		args = append(args, "resume", spec.Continuation)
	}
	args = append(args, "--json", "--skip-git-repo-check", "-s", string(spec.Sandbox))
	if spec.Model != "" {
		args = append(args, "-m", spec.Model)
	}
	return args
}

func geminiArgs(spec CommandSpec) []string {
	args := []string{"-o", "stream-json"}
	if spec.Sandbox != SandboxReadOnly {
		args = append(args, "-y")
	}
	if spec.Model != "" {
		args = append(args, "-m", spec.Model)
	}
	if spec.Continuation != "" {
		args = append(args, "-r", spec.Continuation)
	}
	return args
}
