package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\ndatabase:\n  driver: sqlite\n  dsn: \"file::memory:\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Fleet.AcquireTimeout)
	assert.Equal(t, 4, cfg.Fleet.DefaultCapacity)
	assert.Equal(t, 64, cfg.Broadcast.SubscriberBuffer)
	assert.Equal(t, 15*time.Second, cfg.Broadcast.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Provisioner.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Writeback.FlushInterval)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2, cfg.WorkerPool.Size)
	assert.True(t, cfg.Provisioner.Enabled)
}
