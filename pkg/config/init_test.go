package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigCreatesFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Filepull Configuration File"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := InitConfig(false)
	require.NoError(t, err)

	_, err = InitConfig(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = InitConfig(true)
	assert.NoError(t, err)
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)

	// The sample must describe the same defaults Load would apply anyway.
	def := GetDefaultConfig()
	assert.Equal(t, def.Logging.Level, cfg.Logging.Level)
	assert.Equal(t, def.API.Port, cfg.API.Port)
	assert.Equal(t, def.Hub.Port, cfg.Hub.Port)
	assert.Equal(t, def.Download.ChunkSize, cfg.Download.ChunkSize)
	assert.Equal(t, def.Download.MaxRetryAttempts, cfg.Download.MaxRetryAttempts)
	assert.Equal(t, time.Second, cfg.Download.RetryBaseDelay)
	assert.Equal(t, def.Download.Retention, cfg.Download.Retention)
}
