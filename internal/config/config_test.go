package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8700, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Updater.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Updater.BaseDelay.Std())
	assert.Equal(t, 30*time.Minute, cfg.Monitor.MaxDuration.Std())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  port: 9100
  allowed_origins: ["https://app.example.com"]
monitor:
  poll_interval: 2s
  max_duration: 10m
cloud:
  base_url: "https://cloud.example.com"
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval.Std())
	assert.Equal(t, 10*time.Minute, cfg.Monitor.MaxDuration.Std())
	assert.Equal(t, "https://cloud.example.com", cfg.Cloud.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Updater.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Monitor.GracePeriod.Std())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
