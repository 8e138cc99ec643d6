package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	looperrors "github.com/agentloop/agentloop/internal/errors"
	"github.com/agentloop/agentloop/internal/logging"
)

// Lock is an exclusive per-task lock backed by a file with process liveness
// checks. A crashed process leaves a lock file behind, so acquisition treats
// a dead owner PID as stale and cleans it up.
type Lock struct {
	TaskID     string    `json:"task_id"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	lockFile string
	logger   *logging.Logger
}

// lockFilePath returns the lock file for a task within the state directory.
func lockFilePath(stateDir, taskID string) string {
	return filepath.Join(stateDir, taskID+"-execution.lock")
}

// AcquireLock takes the exclusive lock for a task. Returns ErrStateLocked
// when another live process holds it. The logger may be nil.
func AcquireLock(stateDir, taskID string, logger *logging.Logger) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	lockPath := lockFilePath(stateDir, taskID)

	if existing, err := ReadLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			if logger != nil {
				logger.Error("failed to acquire task lock",
					"task_id", taskID,
					"holder_pid", existing.PID,
					"holder_host", existing.Hostname,
				)
			}
			return nil, looperrors.NewStateError(
				fmt.Sprintf("task locked by PID %d on %s", existing.PID, existing.Hostname),
				looperrors.ErrStateLocked,
			).WithTaskID(taskID).WithPath(lockPath)
		}
		oldPID := existing.PID
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale task lock cleaned", "task_id", taskID, "old_pid", oldPID)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		TaskID:     taskID,
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
		lockFile:   lockPath,
		logger:     logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding lock: %w", err)
	}

	// O_EXCL closes the window between the staleness check and creation.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLock(lockPath); readErr == nil {
				return nil, looperrors.NewStateError(
					fmt.Sprintf("task locked by PID %d on %s", existing.PID, existing.Hostname),
					looperrors.ErrStateLocked,
				).WithTaskID(taskID).WithPath(lockPath)
			}
			return nil, looperrors.NewStateError("task is locked", looperrors.ErrStateLocked).
				WithTaskID(taskID).
				WithPath(lockPath)
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	if logger != nil {
		logger.Info("task lock acquired", "task_id", taskID, "pid", lock.PID)
	}
	return lock, nil
}

// Release removes the lock file if this process still owns it. Safe to call
// multiple times.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}

	existing, err := ReadLock(l.lockFile)
	if err != nil {
		return nil
	}
	if existing.PID != l.PID {
		return nil
	}

	if err := os.Remove(l.lockFile); err != nil && !os.IsNotExist(err) {
		return err
	}

	if l.logger != nil {
		l.logger.Info("task lock released", "task_id", l.TaskID)
	}
	return nil
}

// ReadLock parses a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// IsLocked reports whether a task is held by a live process, returning the
// lock info either way when a lock file exists.
func IsLocked(stateDir, taskID string) (*Lock, bool) {
	lock, err := ReadLock(lockFilePath(stateDir, taskID))
	if err != nil {
		return nil, false
	}
	if !isProcessAlive(lock.PID) {
		return lock, false
	}
	return lock, true
}

// CleanStaleLock removes a lock whose owner is gone. Returns true when a
// stale lock was removed.
func CleanStaleLock(stateDir, taskID string, logger *logging.Logger) (bool, error) {
	lockPath := lockFilePath(stateDir, taskID)

	lock, err := ReadLock(lockPath)
	if err != nil {
		return false, nil
	}
	if isProcessAlive(lock.PID) {
		return false, nil
	}

	if err := os.Remove(lockPath); err != nil {
		return false, fmt.Errorf("removing stale lock: %w", err)
	}
	if logger != nil {
		logger.Warn("stale task lock cleaned", "task_id", taskID, "old_pid", lock.PID)
	}
	return true, nil
}

// isProcessAlive checks liveness with signal 0.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
