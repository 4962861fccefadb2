package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "monopoly.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Hub.LaneLimits["research"])
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoader_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"hub": {
			"lane_limits": {"main": 2, "research": 5, "monitor": 2, "cron": 1},
			"max_iterations": 4
		},
		"engine": {"provider": "openai", "model": "gpt-4o"},
		"approvals": {"auto_approve_threshold": 0.1},
		"data_dir": "/tmp/monopoly-test"
	}`)

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Hub.LaneLimits["main"])
	assert.Equal(t, 5, cfg.Hub.LaneLimits["research"])
	assert.Equal(t, 4, cfg.Hub.MaxIterations)
	assert.Equal(t, "openai", cfg.Engine.Provider)
	assert.Equal(t, "gpt-4o", cfg.Engine.Model)
	assert.Equal(t, 0.1, cfg.Approvals.AutoApproveThreshold)

	// Untouched fields keep defaults
	assert.Equal(t, time.Hour, cfg.Hub.SessionTTL)

	// Derived paths follow the data dir
	assert.Equal(t, filepath.Join("/tmp/monopoly-test", "monopoly.log"), cfg.Logging.File)
}

func TestLoader_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}
