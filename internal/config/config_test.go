package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
webhook:
  secret: "whsec_test"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 20, cfg.RateLimit.Rewrite.Limit)
	assert.Equal(t, 3600, cfg.RateLimit.Rewrite.WindowSeconds)
	assert.Equal(t, time.Hour, cfg.RateLimit.CleanupInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8082
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook secret")
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 99999
webhook:
  secret: "whsec_test"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadParsesPricing(t *testing.T) {
	path := writeConfig(t, `
webhook:
  secret: "whsec_test"
pricing:
  markup: 4
  default_model: "gpt-4o"
  model_rates:
    gpt-4o:
      input_per_million: 2.5
      output_per_million: 10.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, float64(4), cfg.Pricing.Markup)
	assert.Equal(t, "gpt-4o", cfg.Pricing.DefaultModel)
	require.Contains(t, cfg.Pricing.ModelRates, "gpt-4o")
	assert.Equal(t, 2.5, cfg.Pricing.ModelRates["gpt-4o"].InputPerMillion)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
