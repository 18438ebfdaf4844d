package agent

import (
	"context"
	"sync"
	"time"

	"github.com/prdflow/prdflow/internal/backlog"
)

// ScriptedRuntime is an in-memory Runtime for tests and dry runs. Responses
// are keyed by item id; unknown items succeed with files changed.
type ScriptedRuntime struct {
	mu sync.Mutex

	// Results maps item ids to canned results. Entries are returned
	// verbatim, so an explicit nil entry scripts a runtime that produced
	// no result at all.
	Results map[string]*Result

	// Errs maps item ids to canned errors. An entry here wins over Results.
	Errs map[string]error

	// Delay is slept (context permitting) before each response.
	Delay time.Duration

	calls []string
}

// NewScriptedRuntime returns an empty scripted runtime where every item
// succeeds.
func NewScriptedRuntime() *ScriptedRuntime {
	return &ScriptedRuntime{
		Results: make(map[string]*Result),
		Errs:    make(map[string]error),
	}
}

// Execute implements Runtime.
func (s *ScriptedRuntime) Execute(ctx context.Context, item *backlog.Item, sc SessionContext) (*Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, item.ID)
	delay := s.Delay
	err := s.Errs[item.ID]
	result, scripted := s.Results[item.ID]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err != nil {
		return nil, err
	}
	if scripted {
		return result, nil
	}
	return &Result{Success: true, FilesChanged: true}, nil
}

// Calls returns the item ids executed, in order.
func (s *ScriptedRuntime) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
