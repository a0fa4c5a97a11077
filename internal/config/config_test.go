package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults when no file exists", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 64, cfg.Engine.ModuleCacheSize)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.NotEmpty(t, cfg.Engine.CacheDir)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "engine:\n  module_cache_size: 8\nlog:\n  level: debug\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Engine.ModuleCacheSize)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("WASMSHIM_LOG_LEVEL", "warn")

		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
	})

	t.Run("invalid log level is rejected", func(t *testing.T) {
		t.Setenv("WASMSHIM_LOG_LEVEL", "loud")

		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("surprise: true\n"), 0644))

		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}
