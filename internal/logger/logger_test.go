package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultLevel(t *testing.T) {
	l, err := New(Config{Level: "bogus", Console: false})
	require.NoError(t, err)
	defer l.Close()

	// Invalid levels fall back to info
	assert.Equal(t, zerolog.InfoLevel, l.GetZerolog().GetLevel())
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "agent.log")

	l, err := New(Config{Level: "debug", File: logPath})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().Str("component", "hub").Msg("started")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"hub"`)
	assert.Contains(t, string(data), "started")
}

func TestSetLevel(t *testing.T) {
	l, err := New(Config{Level: "info", Console: false})
	require.NoError(t, err)
	defer l.Close()

	l.SetLevel("error")
	assert.Equal(t, zerolog.ErrorLevel, l.GetZerolog().GetLevel())

	// Invalid level keeps the current one
	l.SetLevel("nonsense")
	assert.Equal(t, zerolog.ErrorLevel, l.GetZerolog().GetLevel())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
}
