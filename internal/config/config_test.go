package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
patch_binary: /usr/local/bin/gpatch
listen: 127.0.0.1:9000
lock_ttl_sec: 30
scheduler:
  global_max: 2
  poll_interval: 250ms
  by_connector:
    localexec: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/gpatch", cfg.PatchBinary)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 30, cfg.LockTTLSec)
	assert.Equal(t, 2, cfg.Scheduler.GlobalMax)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, 2, cfg.Scheduler.GetConnectorLimit("localexec"))
	assert.Equal(t, 1, cfg.Scheduler.GetConnectorLimit("other"))
	assert.Equal(t, DefaultConfig().DBPath, cfg.DBPath, "unset keys keep defaults")
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lock_ttl_sec: 0\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_ttl_sec")

	require.NoError(t, os.WriteFile(path, []byte("scheduler: [not, a, map]\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.PatchBinary = "gpatch"
	cfg.LogFile = "/var/log/patchward.log"

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	require.Error(t, SaveConfig(path, nil))
}
