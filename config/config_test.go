package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.MaxReplications)
	assert.Equal(t, 20, cfg.MaxRevTreeDepth)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replication.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr = ":9000"
max_replications = 10
ping_interval_seconds = 0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.MaxReplications)
	assert.Equal(t, 0, cfg.PingInterval)
	assert.Equal(t, 256, cfg.SendQueueSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REPLICATION_LISTEN_ADDR", ":7000")
	t.Setenv("REPLICATION_MAX_REPLICATIONS", "5")
	t.Setenv("REPLICATION_IN_MEMORY", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.MaxReplications)
	assert.True(t, cfg.InMemory)
	assert.True(t, cfg.Store().InMemory)
}

func TestLoadRedisTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replication.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[redis]
addr = "redis.internal:6380"
db = 2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	relay := cfg.Relay()
	assert.Equal(t, "redis.internal:6380", relay.Addr)
	assert.Equal(t, 2, relay.DB)
	assert.Equal(t, "orchestra:replication:", relay.Prefix)
}

func TestLoadRedisEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REPLICATION_REDIS_PREFIX", "test:repl:")

	cfg, err := Load("")
	require.NoError(t, err)
	relay := cfg.Relay()
	assert.Equal(t, "redis.example.com:6380", relay.Addr)
	assert.Equal(t, "secret", relay.Password)
	assert.Equal(t, 3, relay.DB)
	assert.Equal(t, "test:repl:", relay.Prefix)
}

func TestLoadRedisDBMalformed(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsBadRedisAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Addr = "no-port"
	require.Error(t, cfg.Validate())
}

func TestLoadEnvMalformed(t *testing.T) {
	t.Setenv("REPLICATION_MAX_REPLICATIONS", "lots")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsZeroCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReplications = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresPathUnlessInMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = ""
	assert.Error(t, cfg.Validate())

	cfg.InMemory = true
	assert.NoError(t, cfg.Validate())
}

func TestTransportDurations(t *testing.T) {
	tc := DefaultConfig().Transport()
	assert.Equal(t, 30*time.Second, tc.PingInterval)
	assert.Equal(t, 10*time.Second, tc.WriteTimeout)
	assert.Equal(t, 5*time.Second, tc.CloseTimeout)
	assert.Equal(t, 256, tc.SendQueueSize)
}
