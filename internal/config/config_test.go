package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/ws", cfg.Path)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.PongWait)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "wsbridge", cfg.Redis.Channel)
	assert.Equal(t, 16, cfg.Registry.Shards)
	assert.Empty(t, cfg.FrameServer.Addr)
	assert.Equal(t, "kick", cfg.Policy)
}

func TestLoadFile_YAMLAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
mode: debug
port: 9000
path: /socket
upgrade:
  max_connections: 10
redis:
  addr: localhost:6379
policy: drop
`), 0o600))
	t.Setenv("WSBRIDGE_PORT", "9100")
	t.Setenv("WSBRIDGE_UPGRADE_RATE_PER_SEC", "5")

	cfg, err := LoadFile(file)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/socket", cfg.Path)
	assert.Equal(t, 10, cfg.Upgrade.MaxConnections)
	assert.Equal(t, 5, cfg.Upgrade.RatePerSec)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "drop", cfg.Policy)
}

func TestLoadFile_Invalid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: [1, 2"), 0o600))
	_, err := LoadFile(file)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{Port: 8080, Path: "/ws", PingPeriod: time.Second, PongWait: 2 * time.Second}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Port = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Path = "ws"
	assert.Error(t, bad.Validate())

	bad = base
	bad.PingPeriod = 3 * time.Second
	assert.Error(t, bad.Validate())

	bad = base
	bad.Policy = "ban"
	assert.Error(t, bad.Validate())
}
