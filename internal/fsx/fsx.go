// Package fsx provides the filesystem primitives the rest of the pipeline
// builds on: content hashing, atomic file writes, and idempotent directory
// creation. Nothing here knows about sessions or backlogs.
package fsx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// HashBytes returns the lowercase hex SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ShortHashLen is the number of leading hex characters used for
// content-addressed directory names.
const ShortHashLen = 12

// ShortHash returns the leading ShortHashLen characters of a full hex digest.
// Digests shorter than ShortHashLen are returned unchanged.
func ShortHash(full string) string {
	if len(full) < ShortHashLen {
		return full
	}
	return full[:ShortHashLen]
}

// AtomicWrite writes data to a file atomically by writing to a temporary
// file in the same directory first, syncing, then renaming. A reader never
// observes the target in a partially-written state.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	// Create temp file in same directory to ensure atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Sync to disk
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// EnsureDir creates a directory and any missing parents. An already-existing
// directory is success.
func EnsureDir(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// WriteFileExcl creates a file with O_EXCL semantics and writes data to it.
// It returns false with a nil error when the file already exists, which lets
// concurrent creators treat "someone else won" as success.
func WriteFileExcl(path string, data []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path) // Clean up on failure
		return false, fmt.Errorf("failed to write file: %w", err)
	}

	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close file: %w", err)
	}

	return true, nil
}
