package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/logging"
)

// Instrumented observes subtask execution. Hooks run synchronously in the
// executing worker: Before just before the leaf starts, After once it has
// finished, failed, or been cancelled. After receives the runtime result
// when one exists and the pre-classification error.
type Instrumented interface {
	Before(ctx context.Context, item *backlog.Item)
	After(ctx context.Context, item *backlog.Item, result *agent.Result, err error)
}

// TimingHook measures wall-clock duration per subtask.
type TimingHook struct {
	mu        sync.Mutex
	started   map[string]time.Time
	durations map[string]time.Duration
}

// NewTimingHook creates an empty TimingHook.
func NewTimingHook() *TimingHook {
	return &TimingHook{
		started:   make(map[string]time.Time),
		durations: make(map[string]time.Duration),
	}
}

func (h *TimingHook) Before(ctx context.Context, item *backlog.Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started[item.ID] = time.Now()
}

func (h *TimingHook) After(ctx context.Context, item *backlog.Item, result *agent.Result, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if start, ok := h.started[item.ID]; ok {
		h.durations[item.ID] = time.Since(start)
		delete(h.started, item.ID)
	}
}

// Duration returns the measured duration for an item, if it finished.
func (h *TimingHook) Duration(itemID string) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.durations[itemID]
	return d, ok
}

// LoggingHook logs subtask boundaries at info level.
type LoggingHook struct {
	log *logging.Logger
}

// NewLoggingHook creates a LoggingHook writing to the given logger.
func NewLoggingHook(logger *logging.Logger) *LoggingHook {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LoggingHook{log: logger}
}

func (h *LoggingHook) Before(ctx context.Context, item *backlog.Item) {
	h.log.Info("subtask started", "item_id", item.ID, "title", item.Title)
}

func (h *LoggingHook) After(ctx context.Context, item *backlog.Item, result *agent.Result, err error) {
	if err != nil {
		h.log.Warn("subtask errored", "item_id", item.ID, "error", err.Error())
		return
	}
	h.log.Info("subtask finished", "item_id", item.ID)
}
