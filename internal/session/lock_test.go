package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prdflow/prdflow/internal/errors"
)

// deadPID is far above any real pid_max, so no live process can own it.
const deadPID = 1 << 30

func writeLockFile(t *testing.T, dir string, pid int) string {
	t.Helper()
	lock := Lock{SessionID: "001_aaaaaaaaaaaa", PID: pid, Hostname: "elsewhere", StartedAt: time.Now()}
	data, err := json.Marshal(lock)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, LockFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "001_aaaaaaaaaaaa", nil)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if lock.PID != os.Getpid() {
		t.Errorf("lock PID = %d, want %d", lock.PID, os.Getpid())
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file remains after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestAcquireHeldLock(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir, "001_aaaaaaaaaaaa", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	_, err = AcquireLock(dir, "001_aaaaaaaaaaaa", nil)
	if err == nil {
		t.Fatal("second acquire of a held lock succeeded")
	}
	if errors.CodeOf(err) != errors.CodeSessionLocked {
		t.Errorf("code = %s, want SESSION_LOCKED", errors.CodeOf(err))
	}
	if errors.IsFatal(err, false) {
		t.Error("a held lock is not a fatal session error")
	}
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	writeLockFile(t, dir, deadPID)

	lock, err := AcquireLock(dir, "001_aaaaaaaaaaaa", nil)
	if err != nil {
		t.Fatalf("AcquireLock over stale lock failed: %v", err)
	}
	defer lock.Release()

	if lock.PID != os.Getpid() {
		t.Errorf("lock PID = %d, want current process %d", lock.PID, os.Getpid())
	}
	reread, err := ReadLock(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatal(err)
	}
	if reread.PID != os.Getpid() {
		t.Errorf("lock file PID = %d, want %d after takeover", reread.PID, os.Getpid())
	}
}

func TestIsLocked(t *testing.T) {
	dir := t.TempDir()

	if _, locked := IsLocked(dir); locked {
		t.Error("empty directory reports locked")
	}

	writeLockFile(t, dir, os.Getpid())
	if _, locked := IsLocked(dir); !locked {
		t.Error("live lock not reported")
	}

	writeLockFile(t, dir, deadPID)
	if _, locked := IsLocked(dir); locked {
		t.Error("stale lock reported as live")
	}
}

func TestCleanStaleLock(t *testing.T) {
	dir := t.TempDir()

	cleaned, err := CleanStaleLock(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned {
		t.Error("cleaned a lock in an empty directory")
	}

	writeLockFile(t, dir, os.Getpid())
	cleaned, err = CleanStaleLock(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned {
		t.Error("cleaned a live lock")
	}

	writeLockFile(t, dir, deadPID)
	cleaned, err = CleanStaleLock(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !cleaned {
		t.Error("stale lock not cleaned")
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("stale lock file remains")
	}
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "001_aaaaaaaaaaaa", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate another process re-acquiring after a crash of ours.
	writeLockFile(t, dir, deadPID)

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Error("Release removed a lock owned by another process")
	}
}
