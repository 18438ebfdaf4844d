package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePRD(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestWatcher(t *testing.T, debounce time.Duration) (*Watcher, string, chan struct{}) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "product.md")
	writePRD(t, path, "# Product\n")

	fired := make(chan struct{}, 16)
	w, err := New(Config{
		Path:     path,
		Debounce: debounce,
		OnChange: func(ctx context.Context) { fired <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path, fired
}

func waitFire(t *testing.T, fired chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never fired")
	}
}

func assertNoFire(t *testing.T, fired chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case <-fired:
		t.Fatal("watcher fired unexpectedly")
	case <-time.After(within):
	}
}

func TestNewValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "product.md")
	writePRD(t, path, "# Product\n")
	onChange := func(ctx context.Context) {}

	if _, err := New(Config{OnChange: onChange}); err == nil {
		t.Error("New accepted an empty path")
	}
	if _, err := New(Config{Path: path}); err == nil {
		t.Error("New accepted a nil callback")
	}
	if _, err := New(Config{Path: filepath.Join(t.TempDir(), "gone.md"), OnChange: onChange}); err == nil {
		t.Error("New accepted a missing file")
	}

	w, err := New(Config{Path: path, OnChange: onChange})
	if err != nil {
		t.Fatalf("New rejected a valid config: %v", err)
	}
	w.Stop()
}

func TestWatcherFiresOnWrite(t *testing.T) {
	w, path, fired := newTestWatcher(t, 30*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writePRD(t, path, "# Product\n\nChanged.\n")
	waitFire(t, fired)
}

func TestWatcherFiresOnAtomicReplace(t *testing.T) {
	w, path, fired := newTestWatcher(t, 30*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Editors that save atomically write a sibling and rename it over the
	// target; this must still register as a change.
	tmp := path + ".tmp"
	writePRD(t, tmp, "# Product\n\nReplaced.\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitFire(t, fired)
}

func TestWatcherCoalescesBursts(t *testing.T) {
	w, path, fired := newTestWatcher(t, 200*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		writePRD(t, path, "# Product\n\nRevision.\n")
		time.Sleep(5 * time.Millisecond)
	}

	waitFire(t, fired)
	assertNoFire(t, fired, 400*time.Millisecond)
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	w, path, fired := newTestWatcher(t, 30*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writePRD(t, filepath.Join(filepath.Dir(path), "notes.md"), "unrelated\n")
	assertNoFire(t, fired, 300*time.Millisecond)
}

func TestStartTwiceFails(t *testing.T) {
	w, _, _ := newTestWatcher(t, 30*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w, _, _ := newTestWatcher(t, 30*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()
	w.Stop()
	w.Stop()
}

func TestStopBeforeStart(t *testing.T) {
	w, _, _ := newTestWatcher(t, 30*time.Millisecond)
	w.Stop()
}

func TestStopAfterContextCancel(t *testing.T) {
	w, _, _ := newTestWatcher(t, 30*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	w.Stop()
}

func TestStopPreventsFurtherFires(t *testing.T) {
	w, path, fired := newTestWatcher(t, 30*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()

	writePRD(t, path, "# Product\n\nToo late.\n")
	assertNoFire(t, fired, 200*time.Millisecond)
}
