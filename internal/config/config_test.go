package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zedtv/zedtv-catalog/internal/source"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 2, cfg.Fetch.Retries)
	assert.Equal(t, 2*time.Second, cfg.Fetch.Backoff)
	assert.Equal(t, 24*time.Hour, cfg.Accounts.StaleAfter)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Fetch.FetchSeries)

	assert.NotEmpty(t, cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "snapshots"), cfg.Paths.SnapshotDir)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "playlists"), cfg.Paths.PlaylistDir)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "accounts.json"), cfg.AccountsPath())
}

func TestConfigFileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
paths:
  data_dir: /tmp/zedtv-test
fetch:
  timeout: 30s
  retries: 5
  fetch_series: true
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/zedtv-test", cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join("/tmp/zedtv-test", "snapshots"), cfg.Paths.SnapshotDir)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 5, cfg.Fetch.Retries)
	assert.True(t, cfg.Fetch.FetchSeries)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ZEDTV_LOG_LEVEL", "warn")
	t.Setenv("ZEDTV_FETCH_TIMEOUT", "45s")
	t.Setenv("ZEDTV_ACCOUNTS_KEY", "aa")
	t.Setenv("ZEDTV_PATHS_DATA_DIR", "/var/lib/zedtv")
	t.Setenv("ZEDTV_PATHS_PLAYLIST_DIR", "/srv/playlists")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "aa", cfg.Accounts.SealKey)
	assert.Equal(t, "/var/lib/zedtv", cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/zedtv", "snapshots"), cfg.Paths.SnapshotDir)
	assert.Equal(t, "/srv/playlists", cfg.Paths.PlaylistDir)
}

func TestInvalidValuesRejected(t *testing.T) {
	for name, body := range map[string]string{
		"bad level":        "log:\n  level: loud\n",
		"negative timeout": "fetch:\n  timeout: -1s\n",
		"retries too high": "fetch:\n  retries: 50\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			var verr *source.ValidationError
			require.ErrorAs(t, err, &verr, "expected validation error for %s", name)
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zedtv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
