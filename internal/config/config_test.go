package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{ConditionBaseline, ConditionLog, ConditionEnforce}, cfg.Conditions)
	assert.InDelta(t, 0.70, cfg.Enforcement.EndorseConfidenceThreshold, 1e-9)
	assert.Equal(t, 2000, cfg.Stats.BootstrapResamples)
	assert.Equal(t, 5000, cfg.Stats.PermutationTrials)
	assert.InDelta(t, 0.05, cfg.Stats.CIAlpha, 1e-9)

	for _, role := range []string{"generation", "gate", "rewrite", "judge"} {
		_, ok := cfg.Models[role]
		assert.True(t, ok, "missing model role %s", role)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte("[]"), 0644))

	cfgYAML := `
run_name: pilot
seed: 42
suite:
  path: suite.yaml
conditions: [baseline, enforce]
models:
  generation:
    provider: openai
    model: gpt-4o-mini
    temperature: 0.7
    top_p: 1.0
    max_tokens: 512
    timeout: 45s
`
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0644))

	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "pilot", cfg.RunName)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, []string{"baseline", "enforce"}, cfg.Conditions)
	assert.Equal(t, suitePath, cfg.Suite.Path, "relative suite path resolves against the config")
	assert.Equal(t, "sk-from-env", cfg.Models["generation"].APIKey)
	assert.Equal(t, 45*time.Second, cfg.Models["generation"].TimeoutDuration())

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 2000, cfg.Stats.BootstrapResamples)
	assert.Equal(t, 4, cfg.Concurrency.MaxTrajectories)
}

func TestLoadRejectsUnknownCondition(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("conditions: [baseline, shadow]\n"), 0644))

	_, err := Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no conditions", func(c *Config) { c.Conditions = nil }, "at least one condition"},
		{"missing generation model", func(c *Config) { delete(c.Models, "generation") }, "models.generation"},
		{"threshold out of range", func(c *Config) { c.Enforcement.EndorseConfidenceThreshold = 1.5 }, "endorse_confidence_threshold"},
		{"alpha out of range", func(c *Config) { c.Stats.CIAlpha = 0 }, "ci_alpha"},
		{"zero trajectories", func(c *Config) { c.Concurrency.MaxTrajectories = 0 }, "max_trajectories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "config.yaml")

	cfg := DefaultConfig()
	cfg.RunName = "roundtrip"
	cfg.Seed = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.RunName)
	assert.Equal(t, int64(7), loaded.Seed)
	assert.Equal(t, cfg.Conditions, loaded.Conditions)
}

func TestTimeoutDuration(t *testing.T) {
	assert.Equal(t, 120*time.Second, ModelConfig{}.TimeoutDuration())
	assert.Equal(t, 120*time.Second, ModelConfig{Timeout: "garbage"}.TimeoutDuration())
	assert.Equal(t, 10*time.Second, ModelConfig{Timeout: "10s"}.TimeoutDuration())
}

func TestHasCondition(t *testing.T) {
	cfg := &Config{Conditions: []string{ConditionBaseline, ConditionEnforce}}
	assert.True(t, cfg.HasCondition(ConditionBaseline))
	assert.True(t, cfg.HasCondition(ConditionEnforce))
	assert.False(t, cfg.HasCondition(ConditionLog))
}
