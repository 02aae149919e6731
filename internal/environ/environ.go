// Package environ builds the isolated process environment for one backend
// spawn. Credentials travel only through environment variables, never argv.
package environ

import (
	"fmt"
	"strings"

	"github.com/agentmux/amx/internal/backend"
	"github.com/agentmux/amx/internal/config"
)

// ErrMissingCredentials reports a backend that mandates credentials the
// configuration does not provide.
type ErrMissingCredentials struct {
	Backend string
	Missing []string
}

func (e *ErrMissingCredentials) Error() string {
	return fmt.Sprintf(
		"backend %q requires configuration keys: %s",
		e.Backend,
		strings.Join(e.Missing, ", "),
	)
}

// managedKeys are scrubbed from the inherited environment before applying
// one backend's credentials, so one backend's secrets never reach another
// backend's process.
var managedKeys = []string{
	"ANTHROPIC_AUTH_TOKEN",
	"ANTHROPIC_BASE_URL",
	"ANTHROPIC_MODEL",
	"ANTHROPIC_SMALL_FAST_MODEL",
	"CODEX_API_KEY",
	"OPENAI_BASE_URL",
	"GEMINI_API_KEY",
	"GOOGLE_GEMINI_BASE_URL",
}

// Build returns a call-local environment slice for the given backend. The
// base slice (normally os.Environ()) is copied, never mutated.
func Build(desc backend.Descriptor, creds config.Backend, base []string) ([]string, error) {
	if desc.RequiresCredentials {
		missing := make([]string, 0, 2)
		if strings.TrimSpace(creds.APIToken) == "" {
			missing = append(missing, "api_token")
		}
		if strings.TrimSpace(creds.BaseURL) == "" {
			missing = append(missing, "base_url")
		}
		if len(missing) > 0 {
			return nil, &ErrMissingCredentials{Backend: desc.ID, Missing: missing}
		}
	}

	env := scrub(base)
	for key, value := range credentialVars(desc.ID, creds) {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}
	return env, nil
}

func credentialVars(id string, creds config.Backend) map[string]string {
	switch id {
	case "claude", "coder":
		vars := map[string]string{
			"ANTHROPIC_AUTH_TOKEN": creds.APIToken,
			"ANTHROPIC_BASE_URL":   creds.BaseURL,
			"ANTHROPIC_MODEL":      creds.Model,
		}
		if id == "coder" && creds.Model != "" {
			vars["ANTHROPIC_SMALL_FAST_MODEL"] = creds.Model
		}
		return vars
	case "codex":
		return map[string]string{
			"CODEX_API_KEY":   creds.APIToken,
			"OPENAI_BASE_URL": creds.BaseURL,
		}
	case "gemini":
		return map[string]string{
			"GEMINI_API_KEY":         creds.APIToken,
			"GOOGLE_GEMINI_BASE_URL": creds.BaseURL,
		}
	default:
		return nil
	}
}

func scrub(base []string) []string {
	out := make([]string, 0, len(base))
	for _, entry := range base {
		if isManaged(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func isManaged(entry string) bool {
	key, _, ok := strings.Cut(entry, "=")
	if !ok {
		return false
	}
	for _, managed := range managedKeys {
		if key == managed {
			return true
		}
	}
	return false
}
