package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lifecycleManager owns the PID file so a second instance refuses to
// start against the same data directory.
type lifecycleManager struct {
	pidFile string
}

func newLifecycleManager(dataDir string) *lifecycleManager {
	return &lifecycleManager{
		pidFile: filepath.Join(dataDir, "monopoly.pid"),
	}
}

func (l *lifecycleManager) start() error {
	if err := os.MkdirAll(filepath.Dir(l.pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, ok := ReadPID(l.pidFile); ok && processAlive(pid) {
		return fmt.Errorf("another instance is running (pid %d, file %s)", pid, l.pidFile)
	}

	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(l.pidFile, []byte(pid), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func (l *lifecycleManager) stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// PIDFilePath returns the PID file location for a data directory.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, "monopoly.pid")
}

// ReadPID reads a PID file. ok is false when the file is missing or
// malformed.
func ReadPID(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// IsRunning reports whether the PID file names a live process.
func IsRunning(pidFile string) bool {
	pid, ok := ReadPID(pidFile)
	return ok && processAlive(pid)
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes the process without touching it.
	return process.Signal(syscall.Signal(0)) == nil
}
