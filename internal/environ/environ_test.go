package environ

import (
	"errors"
	"strings"
	"testing"

	"github.com/agentmux/amx/internal/backend"
	"github.com/agentmux/amx/internal/config"
)

func TestBuildRequiresCoderCredentials(t *testing.T) {
	t.Parallel()

	desc, _ := backend.Lookup("coder")
	_, err := Build(desc, config.Backend{Model: "glm-4.7"}, nil)
	if err == nil {
		t.Fatal("expected missing-credentials error")
	}
	var missing *ErrMissingCredentials
	if !errors.As(err, &missing) {
		t.Fatalf("error type = %T, want *ErrMissingCredentials", err)
	}
	if len(missing.Missing) != 2 {
		t.Fatalf("missing keys = %v, want api_token and base_url", missing.Missing)
	}
}

func TestBuildToleratesLocallyAuthenticatedBackends(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"claude", "codex", "gemini"} {
		desc, _ := backend.Lookup(id)
		env, err := Build(desc, config.Backend{}, []string{"PATH=/usr/bin"})
		if err != nil {
			t.Fatalf("Build(%s) with no credentials: %v", id, err)
		}
		if len(env) != 1 || env[0] != "PATH=/usr/bin" {
			t.Fatalf("Build(%s) env = %v", id, env)
		}
	}
}

func TestBuildInjectsCoderEnvAndScrubsInherited(t *testing.T) {
	t.Parallel()

	desc, _ := backend.Lookup("coder")
	base := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_AUTH_TOKEN=stale-host-token",
		"GEMINI_API_KEY=other-backend-secret",
	}
	env, err := Build(desc, config.Backend{
		APIToken: "tok-1",
		BaseURL:  "https://llm.example",
		Model:    "glm-4.7",
	}, base)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "ANTHROPIC_AUTH_TOKEN=tok-1") {
		t.Fatalf("token not injected: %v", env)
	}
	if !strings.Contains(joined, "ANTHROPIC_BASE_URL=https://llm.example") {
		t.Fatalf("base url not injected: %v", env)
	}
	if !strings.Contains(joined, "ANTHROPIC_MODEL=glm-4.7") {
		t.Fatalf("model not injected: %v", env)
	}
	if strings.Contains(joined, "stale-host-token") {
		t.Fatalf("inherited token leaked through: %v", env)
	}
	if strings.Contains(joined, "other-backend-secret") {
		t.Fatalf("another backend's secret leaked through: %v", env)
	}
}

func TestBuildDoesNotMutateBase(t *testing.T) {
	t.Parallel()

	desc, _ := backend.Lookup("gemini")
	base := []string{"PATH=/usr/bin", "GEMINI_API_KEY=old"}
	snapshot := append([]string(nil), base...)

	if _, err := Build(desc, config.Backend{APIToken: "new"}, base); err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := range base {
		if base[i] != snapshot[i] {
			t.Fatalf("base environment mutated at %d: %q", i, base[i])
		}
	}
}

func TestBuildCodexEnv(t *testing.T) {
	t.Parallel()

	desc, _ := backend.Lookup("codex")
	env, err := Build(desc, config.Backend{APIToken: "ck", BaseURL: "https://codex.example"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "CODEX_API_KEY=ck") {
		t.Fatalf("codex key missing: %v", env)
	}
	if !strings.Contains(joined, "OPENAI_BASE_URL=https://codex.example") {
		t.Fatalf("codex base url missing: %v", env)
	}
}
