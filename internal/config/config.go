// Package config loads the application configuration for the agentloop CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoopConfig holds the turn-loop settings exposed through the config file.
type LoopConfig struct {
	MaxSteps          int     `json:"max_steps"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	CostLimit         float64 `json:"cost_limit"`
	StuckThreshold    int     `json:"stuck_threshold"`
	EvaluateEvery     int     `json:"evaluate_every"`
	ScoreThreshold    float64 `json:"score_threshold"`
	CostPerKiloTokens float64 `json:"cost_per_kilo_tokens"`
}

// ProviderConfig holds model-provider settings.
type ProviderConfig struct {
	// Provider is "anthropic" or "openai"
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key,omitempty"`
	// APIKeyEnvVar names the environment variable holding the key when
	// api_key is empty
	APIKeyEnvVar string `json:"api_key_env,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
}

// Config represents the application configuration.
type Config struct {
	Workspace   string         `json:"workspace"`
	LogLevel    string         `json:"log_level"`
	LogFile     string         `json:"log_file,omitempty"`
	HistoryPath string         `json:"history_path,omitempty"`
	Provider    ProviderConfig `json:"provider"`
	Loop        LoopConfig     `json:"loop"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace:   ".",
		LogLevel:    "info",
		HistoryPath: filepath.Join(home, ".agentloop", "history.db"),
		Provider: ProviderConfig{
			Provider:     "anthropic",
			Model:        "claude-sonnet-4-5",
			APIKeyEnvVar: "ANTHROPIC_API_KEY",
		},
		Loop: LoopConfig{
			MaxSteps:       32,
			StuckThreshold: 3,
			ScoreThreshold: 1.0,
		},
	}
}

// Load reads a JSON config file, layering it over the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem, if any.
func (c *Config) Validate() error {
	switch c.Provider.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider.Provider)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("config: provider model must not be empty")
	}
	if c.Loop.MaxSteps < 1 {
		return fmt.Errorf("config: loop.max_steps must be >= 1, got %d", c.Loop.MaxSteps)
	}
	if c.Loop.ScoreThreshold < 0 || c.Loop.ScoreThreshold > 1 {
		return fmt.Errorf("config: loop.score_threshold must be in [0, 1], got %f", c.Loop.ScoreThreshold)
	}
	return nil
}

// APIKey resolves the provider API key: the literal value wins, then the
// named environment variable.
func (c *Config) APIKey() string {
	if c.Provider.APIKey != "" {
		return c.Provider.APIKey
	}
	if c.Provider.APIKeyEnvVar != "" {
		return os.Getenv(c.Provider.APIKeyEnvVar)
	}
	return ""
}

// LoopTimeout converts the configured seconds into a duration.
func (c *Config) LoopTimeout() time.Duration {
	if c.Loop.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Loop.TimeoutSeconds) * time.Second
}
