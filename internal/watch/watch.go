// Package watch re-runs the pipeline when the PRD file changes on disk.
// Events are debounced so one editor save, which typically produces a burst
// of writes and renames, triggers exactly one run.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/prdflow/prdflow/internal/logging"
)

// DefaultDebounce coalesces the event bursts editors produce for one save.
const DefaultDebounce = 500 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Path is the PRD file to watch.
	Path string

	// Debounce is how long the watcher waits after the last event before
	// firing. Zero selects DefaultDebounce.
	Debounce time.Duration

	// OnChange runs after each debounced burst, on the watch goroutine;
	// invocations therefore never overlap.
	OnChange func(ctx context.Context)

	// Logger receives watch lifecycle logs. Optional.
	Logger *logging.Logger
}

// Watcher debounces filesystem events on a single PRD file.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context)
	log      *logging.Logger

	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// New creates a watcher for the configured PRD path. The file must exist;
// its parent directory is what is actually watched, because editors that
// save by rename replace the file and would silently drop a watch held on
// the file itself.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher requires a PRD path")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("watcher requires an OnChange callback")
	}

	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", cfg.Path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: cfg.OnChange,
		log:      logger,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Start begins watching. The loop runs until ctx is cancelled or Stop is
// called; ctx is also what OnChange receives.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	w.log.Info("watching PRD", "path", w.path, "debounce", w.debounce.String())
	go w.loop(ctx)
	return nil
}

// Stop halts the watcher and waits for the loop to exit. It is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.fsw.Close()
	})

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.doneCh
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	// Parked until the first relevant event.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := 0
	for {
		select {
		case <-w.stopCh:
			return

		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			pending++
			timer.Reset(w.debounce)

		case <-timer.C:
			if pending == 0 {
				continue
			}
			w.log.Info("PRD changed", "path", w.path, "events", pending)
			pending = 0
			w.onChange(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err.Error())
		}
	}
}

// relevant filters the directory watch down to the PRD file itself.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(ev.Name) == w.path
}
