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

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Queue.Backend)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Empty(t, cfg.Storage.SigningSecret)
	assert.Equal(t, 50, cfg.Reports.SystemActiveLimit)
	assert.Equal(t, 3, cfg.Reports.MaxRetries)
	assert.Equal(t, 90*24*time.Hour, cfg.Reports.ValidityWindow)
	assert.Equal(t, 60*time.Second, cfg.Worker.VisibilityTimeout)
	assert.Equal(t, 3, cfg.Worker.MaxReceiveCount)
	assert.Equal(t, 30*time.Minute, cfg.Worker.StuckTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Worker.SweepInterval)
	assert.True(t, cfg.Worker.Enabled)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("MILEAGE_SERVER_PORT", "9090")
	t.Setenv("MILEAGE_WORKER_POLL_WAIT", "2s")
	t.Setenv("MILEAGE_REPORTS_DAILY_LIMIT", "4")
	t.Setenv("MILEAGE_WORKER_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollWait)
	assert.Equal(t, 4, cfg.Reports.DailyLimit)
	assert.False(t, cfg.Worker.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
queue:
  backend: redis
  redis_addr: localhost:6379
reports:
  cooldown_window: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "localhost:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.Reports.CooldownWindow)
}

func TestLoadBoltWithSigningSecret(t *testing.T) {
	t.Setenv("MILEAGE_STORAGE_BACKEND", "bolt")
	t.Setenv("MILEAGE_STORAGE_SIGNING_SECRET", "a-long-enough-signing-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "a-long-enough-signing-secret", cfg.Storage.SigningSecret)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Run("redis without address", func(t *testing.T) {
		t.Setenv("MILEAGE_QUEUE_BACKEND", "redis")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("unknown log level", func(t *testing.T) {
		t.Setenv("MILEAGE_SERVER_LOG_LEVEL", "verbose")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("bolt without signing secret", func(t *testing.T) {
		t.Setenv("MILEAGE_STORAGE_BACKEND", "bolt")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("bolt with short signing secret", func(t *testing.T) {
		t.Setenv("MILEAGE_STORAGE_BACKEND", "bolt")
		t.Setenv("MILEAGE_STORAGE_SIGNING_SECRET", "short")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("gcs without bucket", func(t *testing.T) {
		t.Setenv("MILEAGE_STORAGE_BACKEND", "gcs")
		_, err := Load("")
		assert.Error(t, err)
	})
}
