package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, 20, cfg.Tracker.HistorySize)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.CheckInterval)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.DueWindow)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.BulkDelay)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("SCHEDULER_DUE_WINDOW", "5m")
	t.Setenv("TRACKER_HISTORY_SIZE", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.DueWindow)
	assert.Equal(t, 7, cfg.Tracker.HistorySize)
}

func TestLoad_SecretFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	secretPath := filepath.Join(dir, "jwt_secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("  from-file\n"), 0o600))

	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", secretPath)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := "instagram:\n  account_id: \"1784\"\n  status_poll_attempts: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "1784", cfg.Instagram.AccountID)
	assert.Equal(t, 4, cfg.Instagram.StatusPollAttempts)
}
