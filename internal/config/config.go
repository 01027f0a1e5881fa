// Package config holds the run configuration for driftbench. A single
// Config struct of per-concern sub-structs is loaded from YAML, then
// environment overrides are applied. The loaded value is passed explicitly
// through the runner/labeler/metrics chain so concurrent runs cannot
// cross-contaminate through ambient state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration.
type Config struct {
	RunName string `yaml:"run_name" json:"run_name"`
	Seed    int64  `yaml:"seed" json:"seed"`

	Suite       SuiteConfig            `yaml:"suite" json:"suite"`
	Models      map[string]ModelConfig `yaml:"models" json:"models"` // keys: generation, gate, rewrite, judge
	Conditions  []string               `yaml:"conditions" json:"conditions"`
	Enforcement EnforcementConfig      `yaml:"enforcement" json:"enforcement"`
	Labeling    LabelingConfig         `yaml:"labeling" json:"labeling"`
	Stats       StatsConfig            `yaml:"stats" json:"stats"`
	Concurrency ConcurrencyConfig      `yaml:"concurrency" json:"concurrency"`
	Logging     LoggingConfig          `yaml:"logging" json:"logging"`
}

// SuiteConfig locates the scenario suite.
type SuiteConfig struct {
	Path         string `yaml:"path" json:"path"`
	HeldoutPath  string `yaml:"heldout_path,omitempty" json:"heldout_path,omitempty"`
	MaxScenarios int    `yaml:"max_scenarios,omitempty" json:"max_scenarios,omitempty"`
}

// ModelConfig configures one model role (generation, gate, rewrite, judge).
// APIKey never serializes to JSON: run-artifact snapshots must not carry
// credentials, keys are restored from the environment on load.
type ModelConfig struct {
	Provider    string  `yaml:"provider" json:"provider"` // openai, anthropic, gemini
	Model       string  `yaml:"model" json:"model"`
	APIKey      string  `yaml:"api_key,omitempty" json:"-"`
	BaseURL     string  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	TopP        float64 `yaml:"top_p" json:"top_p"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Timeout     string  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// TimeoutDuration parses the configured timeout, defaulting to 120s.
func (m ModelConfig) TimeoutDuration() time.Duration {
	if m.Timeout == "" {
		return 120 * time.Second
	}
	d, err := time.ParseDuration(m.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// EnforcementConfig controls the gate+rewrite pipeline.
type EnforcementConfig struct {
	Enabled                    bool    `yaml:"enabled" json:"enabled"`
	GateEnabled                bool    `yaml:"gate_enabled" json:"gate_enabled"`
	RewriteEnabled             bool    `yaml:"rewrite_enabled" json:"rewrite_enabled"`
	OnlyWhenCorrectionRequired bool    `yaml:"only_when_correction_required" json:"only_when_correction_required"`
	EndorseConfidenceThreshold float64 `yaml:"endorse_confidence_threshold" json:"endorse_confidence_threshold"`
}

// LabelingConfig tunes the labeling pass. LexiconDir, when set, points at
// a directory of epistemic.txt/rapport.txt/hedging.txt marker files that
// override the embedded lexicons.
type LabelingConfig struct {
	LexiconDir string `yaml:"lexicon_dir,omitempty" json:"lexicon_dir,omitempty"`
}

// StatsConfig controls bootstrap and permutation testing.
type StatsConfig struct {
	BootstrapResamples int     `yaml:"bootstrap_resamples" json:"bootstrap_resamples"`
	CIAlpha            float64 `yaml:"ci_alpha" json:"ci_alpha"`
	PermutationTrials  int     `yaml:"permutation_trials" json:"permutation_trials"`
}

// ConcurrencyConfig bounds trajectory fan-out and the outbound call budget.
type ConcurrencyConfig struct {
	MaxTrajectories  int `yaml:"max_trajectories" json:"max_trajectories"`
	MaxInflightCalls int `yaml:"max_inflight_calls" json:"max_inflight_calls"`
	MaxCallAttempts  int `yaml:"max_call_attempts" json:"max_call_attempts"`
}

// LoggingConfig controls the categorized debug file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Level      string          `yaml:"level" json:"level"`
	Categories map[string]bool `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Valid ablation conditions.
const (
	ConditionBaseline = "baseline"
	ConditionLog      = "log"
	ConditionEnforce  = "enforce"
)

// DefaultConfig returns a runnable configuration modulo API keys and paths.
func DefaultConfig() *Config {
	return &Config{
		RunName: "driftbench",
		Seed:    0,
		Models: map[string]ModelConfig{
			"generation": {Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.7, TopP: 1.0, MaxTokens: 1024},
			"gate":       {Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.0, TopP: 1.0, MaxTokens: 512},
			"rewrite":    {Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.3, TopP: 1.0, MaxTokens: 1024},
			"judge":      {Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.0, TopP: 1.0, MaxTokens: 512},
		},
		Conditions: []string{ConditionBaseline, ConditionLog, ConditionEnforce},
		Enforcement: EnforcementConfig{
			Enabled:                    true,
			GateEnabled:                true,
			RewriteEnabled:             true,
			OnlyWhenCorrectionRequired: true,
			EndorseConfidenceThreshold: 0.70,
		},
		Stats: StatsConfig{
			BootstrapResamples: 2000,
			CIAlpha:            0.05,
			PermutationTrials:  5000,
		},
		Concurrency: ConcurrencyConfig{
			MaxTrajectories:  4,
			MaxInflightCalls: 8,
			MaxCallAttempts:  4,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a YAML config, applies defaults for zero-value sections, env
// overrides for API keys, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Suite paths resolve relative to the config file.
	dir := filepath.Dir(path)
	if cfg.Suite.Path != "" && !filepath.IsAbs(cfg.Suite.Path) {
		cfg.Suite.Path = filepath.Join(dir, cfg.Suite.Path)
	}
	if cfg.Suite.HeldoutPath != "" && !filepath.IsAbs(cfg.Suite.HeldoutPath) {
		cfg.Suite.HeldoutPath = filepath.Join(dir, cfg.Suite.HeldoutPath)
	}
	if cfg.Labeling.LexiconDir != "" && !filepath.IsAbs(cfg.Labeling.LexiconDir) {
		cfg.Labeling.LexiconDir = filepath.Join(dir, cfg.Labeling.LexiconDir)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnvOverrides fills in API keys from the environment for any model
// role whose key is unset. Per-provider variables take precedence over the
// generic DRIFTBENCH_API_KEY. Run-config snapshots never carry keys, so
// loading one goes through here too.
func (c *Config) ApplyEnvOverrides() {
	for role, m := range c.Models {
		if m.APIKey != "" {
			continue
		}
		switch m.Provider {
		case "openai":
			m.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			m.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			m.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if m.APIKey == "" {
			m.APIKey = os.Getenv("DRIFTBENCH_API_KEY")
		}
		c.Models[role] = m
	}
}

// Validate checks conditions, model roles, and numeric bounds.
func (c *Config) Validate() error {
	if len(c.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}
	for _, cond := range c.Conditions {
		switch cond {
		case ConditionBaseline, ConditionLog, ConditionEnforce:
		default:
			return fmt.Errorf("unknown condition %q (want baseline, log, or enforce)", cond)
		}
	}
	if _, ok := c.Models["generation"]; !ok {
		return fmt.Errorf("models.generation is required")
	}
	if c.Enforcement.EndorseConfidenceThreshold < 0 || c.Enforcement.EndorseConfidenceThreshold > 1 {
		return fmt.Errorf("endorse_confidence_threshold must be in [0,1], got %v", c.Enforcement.EndorseConfidenceThreshold)
	}
	if c.Stats.CIAlpha <= 0 || c.Stats.CIAlpha >= 1 {
		return fmt.Errorf("ci_alpha must be in (0,1), got %v", c.Stats.CIAlpha)
	}
	if c.Concurrency.MaxTrajectories < 1 {
		return fmt.Errorf("max_trajectories must be >= 1")
	}
	if c.Concurrency.MaxInflightCalls < 1 {
		return fmt.Errorf("max_inflight_calls must be >= 1")
	}
	return nil
}

// HasCondition reports whether the run includes cond.
func (c *Config) HasCondition(cond string) bool {
	for _, v := range c.Conditions {
		if v == cond {
			return true
		}
	}
	return false
}
