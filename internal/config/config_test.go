package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Engine.MaxVersions)
	assert.Equal(t, 10, cfg.Engine.SignificantChangeThreshold)
	assert.Equal(t, "", cfg.Journal.Path)
	assert.True(t, cfg.Journal.Sync)
	assert.Equal(t, BackendMemory, cfg.Backup.Backend)
	assert.Equal(t, 720*time.Hour, cfg.Backup.Retention)
	assert.Equal(t, 10*time.Second, cfg.Backup.Timeout)
	assert.Equal(t, 3, cfg.Backup.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Backup.Retry.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.Backup.Retry.MaxDelay)
	assert.Equal(t, 2.0, cfg.Backup.Retry.Multiplier)
	assert.Equal(t, 4, cfg.Backup.SweepWorkers)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contentvcs.toml")
	data := `
[engine]
max_versions = 20

[backup]
backend = "sqlite"
sqlite_path = "/var/lib/contentvcs/blobs.db"
retention = "48h"

[backup.retry]
max_attempts = 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Engine.MaxVersions)
	assert.Equal(t, BackendSQLite, cfg.Backup.Backend)
	assert.Equal(t, 48*time.Hour, cfg.Backup.Retention)
	assert.Equal(t, 5, cfg.Backup.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Backup.Retry.MaxDelay)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONTENTVCS_LOG_LEVEL", "debug")
	t.Setenv("CONTENTVCS_BACKUP_SWEEP_WORKERS", "9")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9, cfg.Backup.SweepWorkers)
}

func TestValidate(t *testing.T) {
	v := New()
	v.Set("backup.backend", "s3")
	v.Set("engine.max_versions", 0)

	_, err := Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup.backend")
	assert.Contains(t, err.Error(), "engine.max_versions")

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
