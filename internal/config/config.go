package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agentmux/amx/internal/backend"
)

const configDirName = ".amx"

// Backend holds resolved credentials and model selection for one backend.
type Backend struct {
	APIToken string
	BaseURL  string
	Model    string
}

// Config stores runtime settings resolved from environment variables and
// TOML files. File values override environment values.
type Config struct {
	IdleTimeout time.Duration
	MaxDuration time.Duration
	Backends    map[string]Backend
}

type fileConfig struct {
	IdleTimeout *string                  `toml:"idle_timeout"`
	MaxDuration *string                  `toml:"max_duration"`
	Backends    map[string]backendConfig `toml:"backends"`
}

type backendConfig struct {
	APIToken *string `toml:"api_token"`
	BaseURL  *string `toml:"base_url"`
	Model    *string `toml:"model"`
}

// Load resolves configuration with this precedence: defaults, then
// environment variables, then ~/.amx/config.toml, then a project-local
// .amx/config.toml.
func Load() (*Config, error) {
	cfg := defaults()
	overlayFromEnv(&cfg, os.Getenv)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, configDirName, "config.toml"),
		filepath.Join(workingDir, configDirName, "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Backend returns the resolved settings for one backend identifier. Missing
// entries resolve to the zero value; whether that is an error depends on the
// backend descriptor.
func (c *Config) Backend(id string) Backend {
	if c == nil {
		return Backend{}
	}
	return c.Backends[strings.ToLower(strings.TrimSpace(id))]
}

func defaults() Config {
	return Config{
		IdleTimeout: backend.DefaultIdleTimeout,
		MaxDuration: backend.DefaultMaxDuration,
		Backends:    map[string]Backend{},
	}
}

func overlayFromEnv(cfg *Config, getenv func(string) string) {
	if value := strings.TrimSpace(getenv("AMX_IDLE_TIMEOUT")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			cfg.IdleTimeout = parsed
		}
	}
	if value := strings.TrimSpace(getenv("AMX_MAX_DURATION")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed >= 0 {
			cfg.MaxDuration = parsed
		}
	}

	for _, id := range backend.IDs() {
		prefix := "AMX_" + strings.ToUpper(id) + "_"
		entry := cfg.Backends[id]
		if value := strings.TrimSpace(getenv(prefix + "API_TOKEN")); value != "" {
			entry.APIToken = value
		}
		if value := strings.TrimSpace(getenv(prefix + "BASE_URL")); value != "" {
			entry.BaseURL = value
		}
		if value := strings.TrimSpace(getenv(prefix + "MODEL")); value != "" {
			entry.Model = value
		}
		if entry != (Backend{}) {
			cfg.Backends[id] = entry
		}
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.IdleTimeout != nil {
		value, err := parseDuration(*decoded.IdleTimeout, "idle_timeout", path)
		if err != nil {
			return err
		}
		cfg.IdleTimeout = value
	}
	if decoded.MaxDuration != nil {
		value, err := parseDuration(*decoded.MaxDuration, "max_duration", path)
		if err != nil {
			return err
		}
		cfg.MaxDuration = value
	}

	for name, entry := range decoded.Backends {
		id := strings.ToLower(strings.TrimSpace(name))
		if _, ok := backend.Lookup(id); !ok {
			return fmt.Errorf("parse backends.%s in %q: unknown backend", name, path)
		}
		resolved := cfg.Backends[id]
		if entry.APIToken != nil {
			resolved.APIToken = strings.TrimSpace(*entry.APIToken)
		}
		if entry.BaseURL != nil {
			resolved.BaseURL = strings.TrimSpace(*entry.BaseURL)
		}
		if entry.Model != nil {
			resolved.Model = strings.TrimSpace(*entry.Model)
		}
		cfg.Backends[id] = resolved
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("parse %s in %q: must not be negative", key, path)
	}
	return parsed, nil
}
