package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/a2aruntime/runtime/config"
)

func TestLoadWithPathAppliesDefaults(t *testing.T) {
	cfg, err := config.LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/a2a", cfg.Server.BasePath)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 500, cfg.Dispatch.ResponseWindowMillis)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
}

func TestLoadWithPathReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  addr: \":9090\"\nstore:\n  backend: redis\n  redisUrl: redis://localhost:6379/0\ndispatch:\n  perMinute: 120\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	cfg, err := config.LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, 120.0, cfg.Dispatch.PerMinute)
}

func TestLoadWithPathEnvOverridesDefault(t *testing.T) {
	t.Setenv("A2ARUNTIME_SERVER_ADDR", ":7070")
	cfg, err := config.LoadWithPath(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}
