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
	t.Setenv("ANNOTATIONS_CONFIG_PATH", "")
	t.Setenv("API_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Empty(t, cfg.MigrationsDir, "bundled migrations by default")
	assert.Equal(t, 20, cfg.DBMaxOpenConns)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 5, cfg.SyncBurst)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
corsOrigin: "https://app.example.com"
idempotencyTtlSeconds: 60
syncRatePerSecond: 0.5
`), 0o600))

	t.Setenv("ANNOTATIONS_CONFIG_PATH", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("ANNOTATIONS_DB_MAX_OPEN_CONNS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "https://app.example.com", cfg.CORSOrigin)
	assert.Equal(t, time.Minute, cfg.IdempotencyTTL)
	assert.InDelta(t, 0.5, cfg.SyncRatePerSecond, 1e-9)
	assert.Equal(t, 8, cfg.DBMaxOpenConns)
}

func TestLoadRejectsBadRate(t *testing.T) {
	t.Setenv("ANNOTATIONS_CONFIG_PATH", "")
	t.Setenv("ANNOTATIONS_SYNC_RATE_PER_SECOND", "fast")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ANNOTATIONS_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("ANNOTATIONS_SYNC_BURST", "many")
	assert.Equal(t, 7, getenvInt("ANNOTATIONS_SYNC_BURST", 7))
}
