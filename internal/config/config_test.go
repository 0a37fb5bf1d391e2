package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readyscan.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.DBPath, cfg.DBPath)
	assert.Equal(t, def.Scoring.SeverityWeights, cfg.Scoring.SeverityWeights)
	assert.Equal(t, def.Scoring.Grades, cfg.Scoring.Grades)
	assert.Len(t, cfg.Controls, len(def.Controls))
	assert.Equal(t, "CC9", cfg.Controls[8].ID)
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	body := []byte("scoring:\n  deduction_cap: 60\njudge:\n  max_concurrency: 8\n")
	require.NoError(t, os.WriteFile(path, body, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Scoring.DeductionCap)
	assert.Equal(t, 8, cfg.Judge.MaxConcurrency)
	assert.Equal(t, 10, cfg.Scoring.SeverityWeights["critical"])
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readyscan.yaml")
	require.NoError(t, WriteDefault(path))
	t.Setenv("READYSCAN_JUDGE_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Judge.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadScoring(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing weight", func(c *Config) { delete(c.Scoring.SeverityWeights, "info") }},
		{"negative weight", func(c *Config) { c.Scoring.SeverityWeights["low"] = -1 }},
		{"cap above 100", func(c *Config) { c.Scoring.DeductionCap = 120 }},
		{"weights do not sum to one", func(c *Config) { c.Scoring.BaseWeight = 0.9 }},
		{"grades out of order", func(c *Config) { c.Scoring.Grades.B = 95 }},
		{"unknown provider", func(c *Config) { c.Judge.Provider = "oracle" }},
		{"unknown scanner", func(c *Config) { c.Scanners.Enabled = []string{"secret", "fuzz"} }},
		{"bad timeout", func(c *Config) { c.Judge.Timeout = "soon" }},
		{"bad issues timeout", func(c *Config) { c.Issues.Timeout = "-1s" }},
		{"assignee for unknown control", func(c *Config) { c.Issues.Assignees = map[string]string{"CC42": "someone"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIssuesConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "https://api.github.com", cfg.Issues.APIURL)
	assert.Equal(t, 15*time.Second, cfg.Issues.RequestTimeout())

	cfg.Issues.Assignees = map[string]string{"cc9": "sec-lead", "default": "triage"}
	assert.NoError(t, cfg.Validate(), "viper lowercases map keys")
}

func TestJudgeEnabled(t *testing.T) {
	j := DefaultConfig().Judge
	assert.False(t, j.Enabled())

	j.Provider = "claude"
	assert.False(t, j.Enabled(), "provider without key stays disabled")

	j.APIKey = "k"
	assert.True(t, j.Enabled())
}
