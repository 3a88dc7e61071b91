package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, 50, cfg.Engine.BatchLimit)
	assert.Equal(t, 5*time.Minute, cfg.Engine.TickInterval)
	assert.Equal(t, "https://gmail.googleapis.com", cfg.Gmail.BaseURL)
	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.SES.Enabled())
	assert.False(t, cfg.IMAP.Enabled())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  host: 0.0.0.0
  port: 9090
  cron_secret: shh
engine:
  batch_limit: 25
  tick_interval: 1m
  reclaim_stuck_enabled: true
ses:
  access_key: AKIA
  secret_key: secret
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "shh", cfg.Server.CronSecret)
	assert.Equal(t, 25, cfg.Engine.BatchLimit)
	assert.Equal(t, time.Minute, cfg.Engine.TickInterval)
	assert.True(t, cfg.Engine.ReclaimStuckEnabled)
	assert.True(t, cfg.SES.Enabled())
	// Defaults still fill the gaps.
	assert.Equal(t, "us-east-1", cfg.SES.Region)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/followup")
	t.Setenv("CRON_SECRET", "env-secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/followup", cfg.Database.URL)
	assert.Equal(t, "env-secret", cfg.Server.CronSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
