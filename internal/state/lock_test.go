package state

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	looperrors "github.com/agentloop/agentloop/internal/errors"
)

func TestAcquireLock_Basic(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "task-1", nil)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if lock.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", lock.PID, os.Getpid())
	}

	held, locked := IsLocked(dir, "task-1")
	if !locked {
		t.Error("task should be locked")
	}
	if held.PID != os.Getpid() {
		t.Errorf("holder PID = %d", held.PID)
	}
}

func TestAcquireLock_AlreadyHeld(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "task-1", nil)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	_, err = AcquireLock(dir, "task-1", nil)
	if err == nil {
		t.Fatal("second acquisition should fail")
	}
	if !looperrors.Is(err, looperrors.ErrStateLocked) {
		t.Errorf("error should wrap ErrStateLocked, got: %v", err)
	}
}

func TestAcquireLock_StaleLockCleaned(t *testing.T) {
	dir := t.TempDir()

	// Plant a lock owned by a PID that cannot be alive.
	stale := Lock{TaskID: "task-1", PID: 1 << 30, Hostname: "ghost", AcquiredAt: time.Now()}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(lockFilePath(dir, "task-1"), data, 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := AcquireLock(dir, "task-1", nil)
	if err != nil {
		t.Fatalf("stale lock should be replaced: %v", err)
	}
	defer lock.Release()

	if lock.PID != os.Getpid() {
		t.Errorf("new lock PID = %d", lock.PID)
	}
}

func TestLock_Release(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "task-1", nil)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, locked := IsLocked(dir, "task-1"); locked {
		t.Error("task should be unlocked after release")
	}

	// Idempotent.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}

	// Reacquirable.
	again, err := AcquireLock(dir, "task-1", nil)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestLock_ReleaseDoesNotStealForeignLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "task-1", nil)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	// Replace the file with a different owner's lock.
	foreign := Lock{TaskID: "task-1", PID: lock.PID + 1, Hostname: "other", AcquiredAt: time.Now()}
	data, _ := json.Marshal(foreign)
	if err := os.WriteFile(lockFilePath(dir, "task-1"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(lockFilePath(dir, "task-1")); err != nil {
		t.Error("foreign lock file should survive our release")
	}
}

func TestCleanStaleLock(t *testing.T) {
	dir := t.TempDir()

	t.Run("no lock file", func(t *testing.T) {
		cleaned, err := CleanStaleLock(dir, "task-x", nil)
		if err != nil || cleaned {
			t.Errorf("cleaned=%v err=%v", cleaned, err)
		}
	})

	t.Run("live lock untouched", func(t *testing.T) {
		lock, err := AcquireLock(dir, "task-live", nil)
		if err != nil {
			t.Fatalf("AcquireLock: %v", err)
		}
		defer lock.Release()

		cleaned, err := CleanStaleLock(dir, "task-live", nil)
		if err != nil {
			t.Fatalf("CleanStaleLock: %v", err)
		}
		if cleaned {
			t.Error("live lock should not be cleaned")
		}
	})

	t.Run("stale lock removed", func(t *testing.T) {
		stale := Lock{TaskID: "task-stale", PID: 1 << 30, Hostname: "ghost", AcquiredAt: time.Now()}
		data, _ := json.Marshal(stale)
		os.WriteFile(lockFilePath(dir, "task-stale"), data, 0o644)

		cleaned, err := CleanStaleLock(dir, "task-stale", nil)
		if err != nil {
			t.Fatalf("CleanStaleLock: %v", err)
		}
		if !cleaned {
			t.Error("stale lock should be cleaned")
		}
	})
}
