// Package daemonconfig is the layered configuration for the autonomous
// agent security/execution core, following pkg/config/config.go's shape: a
// root Config struct tagged for gopkg.in/yaml.v3, typed sub-structs per
// concern, a DefaultConfig constructor, and Load() with env-var overrides.
package daemonconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SecurityConfig selects the capability/sandbox preset a new session is
// minted with.
type SecurityConfig struct {
	Profile string `yaml:"profile"` // readonly|developer|full|autonomous|subagent
}

// RoutingConfig selects the Smart Router's cost/quality tradeoff.
type RoutingConfig struct {
	Profile          string `yaml:"profile"` // auto|eco|premium|free
	PreferredProvider string `yaml:"preferred_provider"`
}

// ProviderEntry names the default model for one provider.
type ProviderEntry struct {
	Model string `yaml:"model"`
}

// ProvidersConfig maps provider name to its settings.
type ProvidersConfig struct {
	Default  string                   `yaml:"default_provider"`
	Entries  map[string]ProviderEntry `yaml:"providers"`
}

// CustomModelsConfig maps provider to extra model IDs beyond the built-in
// catalog, mirroring the teacher's custom_models escape hatch.
type CustomModelsConfig struct {
	Models map[string][]string `yaml:"custom_models"`
}

// DaemonConfig bounds the daemon's scheduling cadence, independent of
// pkg/daemon.Config so the on-disk schema is stable across internal
// refactors.
type DaemonConfig struct {
	PollIntervalSeconds  int     `yaml:"poll_interval_seconds"`
	MaxConcurrent        int     `yaml:"max_concurrent"`
	MaxIterations        int     `yaml:"max_iterations"`
	IdleThresholdSeconds int     `yaml:"idle_threshold_seconds"`
	ProactiveIntervalSeconds int `yaml:"proactive_interval_seconds"`
}

// Config is the root on-disk configuration, loaded from <state_dir>/config.yaml.
type Config struct {
	Security     SecurityConfig     `yaml:"security"`
	Routing      RoutingConfig      `yaml:"routing"`
	Providers    ProvidersConfig    `yaml:"providers"`
	CustomModels CustomModelsConfig `yaml:"custom_models"`
	Daemon       DaemonConfig       `yaml:"daemon"`
}

// DefaultSecurityProfile mirrors the teacher's Default*-constant idiom.
const (
	DefaultSecurityProfile = "developer"
	DefaultRoutingProfile  = "auto"
	DefaultPollInterval    = 5
	DefaultMaxConcurrent   = 1
	DefaultMaxIterations   = 50
	DefaultIdleThreshold   = 120
	DefaultProactiveInterval = 60
)

// DefaultConfig returns the baseline configuration before any file or env
// override is applied.
func DefaultConfig() *Config {
	return &Config{
		Security: SecurityConfig{Profile: DefaultSecurityProfile},
		Routing:  RoutingConfig{Profile: DefaultRoutingProfile},
		Providers: ProvidersConfig{
			Default: "openrouter",
			Entries: map[string]ProviderEntry{},
		},
		CustomModels: CustomModelsConfig{Models: map[string][]string{}},
		Daemon: DaemonConfig{
			PollIntervalSeconds:      DefaultPollInterval,
			MaxConcurrent:            DefaultMaxConcurrent,
			MaxIterations:            DefaultMaxIterations,
			IdleThresholdSeconds:     DefaultIdleThreshold,
			ProactiveIntervalSeconds: DefaultProactiveInterval,
		},
	}
}

// StateDir resolves the state directory: UNCLAUDE_STATE_DIR env var, falling
// back to ~/.unclaude, following the teacher's expandHomePath env-fallback
// chain (pkg/checkpoint).
func StateDir() (string, error) {
	if v := os.Getenv("UNCLAUDE_STATE_DIR"); v != "" {
		return expandHomePath(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return "", fmt.Errorf("could not determine home directory")
	}
	return filepath.Join(home, ".unclaude"), nil
}

func expandHomePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

// Load reads <state_dir>/config.yaml over the defaults, then applies
// environment overrides. A missing config file is not an error.
func Load(stateDir string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(stateDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config.yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UNCLAUDE_SECURITY_PROFILE"); v != "" {
		cfg.Security.Profile = v
	}
	if v := os.Getenv("UNCLAUDE_ROUTING_PROFILE"); v != "" {
		cfg.Routing.Profile = v
	}
	if v := os.Getenv("UNCLAUDE_DEFAULT_PROVIDER"); v != "" {
		cfg.Providers.Default = v
	}
}

// ProviderAPIKeyEnv names the env var that overrides a provider's
// credential-file entry, e.g. UNCLAUDE_OPENROUTER_API_KEY.
func ProviderAPIKeyEnv(provider string) string {
	return "UNCLAUDE_" + strings.ToUpper(provider) + "_API_KEY"
}
