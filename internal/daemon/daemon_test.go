package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/config"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Engine.APIKey = "test-key"
	cfg.Gateway.Enabled = false
	cfg.Logging.Console = false
	cfg.Logging.File = ""
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func TestNew(t *testing.T) {
	t.Run("builds all components", func(t *testing.T) {
		d, err := New(testConfig(t), testLogger(t), Collaborators{})
		require.NoError(t, err)

		assert.NotNil(t, d.Hub())
		assert.NotNil(t, d.Approvals())
		assert.NotNil(t, d.Store())
		assert.NotNil(t, d.Research())
		assert.NotNil(t, d.Trading())
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Engine.Provider = "psychic"
		_, err := New(cfg, testLogger(t), Collaborators{})
		assert.Error(t, err)
	})

	t.Run("registers insight tool only without collaborators", func(t *testing.T) {
		d, err := New(testConfig(t), testLogger(t), Collaborators{})
		require.NoError(t, err)
		assert.Equal(t, []string{"store_insight"}, d.registry.List())
	})
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, testLogger(t), Collaborators{})
	require.NoError(t, err)

	require.NoError(t, d.Start(""))

	pidFile := PIDFilePath(cfg.DataDir)
	pid, ok := ReadPID(pidFile)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, IsRunning(pidFile))

	assert.Error(t, d.Start(""), "second start must fail")
	assert.Greater(t, d.Uptime(), time.Duration(0))

	require.NoError(t, d.Stop())
	assert.False(t, IsRunning(pidFile))
	assert.Equal(t, time.Duration(0), d.Uptime())

	require.NoError(t, d.Stop(), "stop is idempotent")
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testConfig(t)
	d1, err := New(cfg, testLogger(t), Collaborators{})
	require.NoError(t, err)
	require.NoError(t, d1.Start(""))
	defer d1.Stop()

	second := &lifecycleManager{pidFile: PIDFilePath(cfg.DataDir)}
	assert.Error(t, second.start())
}

func TestSeedSchedules(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedules = []config.ScheduleConfig{
		{Name: "hourly-scan", Kind: "every", EveryMs: 3600000, Prompt: "Scan markets", Priority: 2},
	}

	d, err := New(cfg, testLogger(t), Collaborators{})
	require.NoError(t, err)
	require.NoError(t, d.Start(""))
	jobs := d.schedules.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "hourly-scan", jobs[0].Name)
	assert.True(t, jobs[0].Enabled)
	require.NoError(t, d.Stop())

	// Restart against the same data dir must not duplicate the job.
	d2, err := New(cfg, testLogger(t), Collaborators{})
	require.NoError(t, err)
	require.NoError(t, d2.Start(""))
	assert.Len(t, d2.schedules.ListJobs(), 1)
	require.NoError(t, d2.Stop())
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, ok := ReadPID(filepath.Join(dir, "absent.pid"))
		assert.False(t, ok)
	})

	t.Run("malformed content", func(t *testing.T) {
		path := filepath.Join(dir, "bad.pid")
		require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))
		_, ok := ReadPID(path)
		assert.False(t, ok)
	})

	t.Run("valid content", func(t *testing.T) {
		path := filepath.Join(dir, "good.pid")
		require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0644))
		pid, ok := ReadPID(path)
		assert.True(t, ok)
		assert.Equal(t, 12345, pid)
	})
}
