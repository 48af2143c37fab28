package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is the PID file kept in the data directory while serving.
const PIDFileName = "korli.pid"

// LifecycleManager manages the daemon PID file
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	return &LifecycleManager{
		daemon:  d,
		pidFile: PIDFilePath(d.config.DataDir),
	}
}

// PIDFilePath returns the PID file location for dataDir.
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, PIDFileName)
}

// Start starts the lifecycle manager
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(l.daemon.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if IsRunning(l.pidFile) {
		pid, _ := ReadPID(l.pidFile)
		return fmt.Errorf("another korli process is running (PID %d)", pid)
	}

	if err := l.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.daemon.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop stops the lifecycle manager
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	l.daemon.logger.Info().Msg("Lifecycle manager stopped")

	return nil
}

func (l *LifecycleManager) writePIDFile() error {
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// GetPID returns the daemon PID from the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	return ReadPID(l.pidFile)
}

// ReadPID parses a PID file.
func ReadPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}

	return pid, nil
}

// IsRunning reports whether the process named by pidFile is alive.
func IsRunning(pidFile string) bool {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds; signal 0 checks the process.
	return process.Signal(syscall.Signal(0)) == nil
}

// Signal sends sig to the process named by pidFile.
func Signal(pidFile string, sig os.Signal) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return nil
}
