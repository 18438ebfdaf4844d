package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/logging"
)

// LockFileName is the name of the lock file within a session directory.
const LockFileName = ".prdflow.lock"

// Lock represents an acquired session lock. Only one process may run a
// pipeline against a session directory at a time; the lock file records who
// holds it.
type Lock struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	// Internal fields (not serialized)
	lockFile string
	logger   *logging.Logger
}

// AcquireLock attempts to acquire an exclusive lock on the session
// directory. A lock held by a live process yields a SESSION_LOCKED error; a
// lock whose owning process is gone is taken over. The logger is optional
// and may be nil.
func AcquireLock(sessionDir, sessionID string, logger *logging.Logger) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, LockFileName)

	if existing, err := ReadLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			if logger != nil {
				logger.Error("failed to acquire session lock",
					"session_id", sessionID,
					"holder_pid", existing.PID,
					"holder_host", existing.Hostname,
				)
			}
			return nil, lockedError(sessionID, existing)
		}
		// Stale lock from a dead process. Take it over.
		oldPID := existing.PID
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale session lock cleaned",
				"session_id", sessionID,
				"old_pid", oldPID,
			)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		SessionID: sessionID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		lockFile:  lockPath,
		logger:    logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL so a racing process cannot acquire the same lock.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLock(lockPath); readErr == nil {
				return nil, lockedError(sessionID, existing)
			}
			return nil, lockedError(sessionID, nil)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	if logger != nil {
		logger.Info("session lock acquired",
			"session_id", sessionID,
			"pid", lock.PID,
		)
	}
	return lock, nil
}

// lockedError builds the structured error for a held lock. SESSION_LOCKED is
// not one of the fatal session codes, but callers abort initialization on it
// rather than fight another process for the directory.
func lockedError(sessionID string, holder *Lock) error {
	msg := fmt.Sprintf("session %s is locked by another process", sessionID)
	if holder != nil {
		msg = fmt.Sprintf("session %s is locked by PID %d on %s", sessionID, holder.PID, holder.Hostname)
	}
	return errors.NewSessionError(msg, nil).
		WithCode(errors.CodeSessionLocked)
}

// Release removes the lock file. Safe to call multiple times; a lock file
// owned by a different PID is left alone.
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

	if err := os.Remove(l.lockFile); err != nil {
		return err
	}
	if l.logger != nil {
		l.logger.Info("session lock released", "session_id", l.SessionID)
	}
	return nil
}

// ReadLock reads and parses a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// IsLocked reports whether a session directory is locked by a live process,
// returning the lock info when it is.
func IsLocked(sessionDir string) (*Lock, bool) {
	lock, err := ReadLock(filepath.Join(sessionDir, LockFileName))
	if err != nil {
		return nil, false
	}
	if !isProcessAlive(lock.PID) {
		return lock, false
	}
	return lock, true
}

// CleanStaleLock removes the lock file if its owning process is no longer
// running. It reports whether a stale lock was cleaned. The logger is
// optional and may be nil.
func CleanStaleLock(sessionDir string, logger *logging.Logger) (bool, error) {
	lockPath := filepath.Join(sessionDir, LockFileName)

	lock, err := ReadLock(lockPath)
	if err != nil {
		return false, nil
	}
	if isProcessAlive(lock.PID) {
		return false, nil
	}

	if err := os.Remove(lockPath); err != nil {
		return false, fmt.Errorf("failed to remove stale lock: %w", err)
	}
	if logger != nil {
		logger.Warn("stale session lock cleaned",
			"session_id", lock.SessionID,
			"old_pid", lock.PID,
		)
	}
	return true, nil
}

// isProcessAlive checks whether a process with the given PID exists.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
