package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("judge configured", "provider", "claude", "api_key", "sk-live-123", "github_token", "ghp_abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "claude", entry["provider"])
	assert.Equal(t, "[REDACTED]", entry["api_key"])
	assert.Equal(t, "[REDACTED]", entry["github_token"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "text", Output: &buf})

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.WithError(errors.New("boom")).Warn("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "boom")
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() { NewNop().Error("ignored") })
}
