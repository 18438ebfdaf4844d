package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterAppendsWithoutRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 10, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	if _, err := rw.Write([]byte("line one\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := rw.Write([]byte("line two\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "line one\nline two\n" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("unexpected backup file without rotation")
	}
}

// smallRotatingWriter builds a writer with a 1 MB limit and pre-fills the
// size counter so the next write triggers rotation.
func TestRotatingWriterRotatesAtLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	// Fill just under the 1 MB limit, then push over it.
	filler := bytes.Repeat([]byte("x"), 512*1024)
	if _, err := rw.Write(filler); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := rw.Write(filler); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := rw.Write([]byte("overflow\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("backup not created: %v", err)
	}
	if int64(len(backup)) != int64(len(filler)*2) {
		t.Errorf("backup size = %d, want %d", len(backup), len(filler)*2)
	}

	current, _ := os.ReadFile(path)
	if string(current) != "overflow\n" {
		t.Errorf("current log = %q, want overflow line only", current)
	}
}

func TestRotatingWriterShiftsAndDropsOldBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	over := bytes.Repeat([]byte("y"), 1024*1024)
	// Each oversized write forces a rotation on the following write.
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(over); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("missing backup .1: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Errorf("missing backup .2: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backup .3 should have been dropped (MaxBackups=2)")
	}
}

func TestRotatingWriterCompression(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	payload := strings.Repeat("compressible line\n", 64*1024)
	if _, err := rw.Write([]byte(payload)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := rw.Write([]byte("next\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	gzPath := path + ".1.gz"
	f, err := os.Open(gzPath)
	if err != nil {
		t.Fatalf("compressed backup not created: %v", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("invalid gzip backup: %v", err)
	}
	defer zr.Close()

	restored, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("failed to decompress backup: %v", err)
	}
	if string(restored) != payload {
		t.Error("decompressed backup does not match original payload")
	}

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriterClosedWrite(t *testing.T) {
	dir := t.TempDir()
	rw, err := NewRotatingWriter(filepath.Join(dir, "pipeline.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("expected error writing to closed writer")
	}
	// Double close is harmless.
	if err := rw.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestCurrentSize(t *testing.T) {
	dir := t.TempDir()
	rw, err := NewRotatingWriter(filepath.Join(dir, "pipeline.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	if rw.CurrentSize() != 0 {
		t.Errorf("CurrentSize = %d, want 0", rw.CurrentSize())
	}
	rw.Write([]byte("12345"))
	if rw.CurrentSize() != 5 {
		t.Errorf("CurrentSize = %d, want 5", rw.CurrentSize())
	}
}
