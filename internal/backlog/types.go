// Package backlog defines the hierarchical task registry produced by PRD
// decomposition: a four-level tree of Phase, Milestone, Task, and Subtask
// items with per-item status, cross-branch dependencies, and free-form
// context metadata. The package owns the registry's JSON representation and
// the status state machine; executing the registry is the orchestrator's job.
package backlog

import "errors"

// Sentinel errors returned by registry operations.
var (
	ErrItemNotFound = errors.New("backlog item not found")
	ErrEmptyBacklog = errors.New("backlog contains no items")
)

// Status represents the state of a work item. All four item levels share
// one status machine.
type Status string

const (
	// StatusPlanned is the initial status of every decomposed item.
	StatusPlanned Status = "planned"
	// StatusResearching marks a subtask whose runtime call is in flight.
	StatusResearching Status = "researching"
	// StatusImplementing marks a subtask in its commit stage, or an
	// ancestor with work started underneath it.
	StatusImplementing Status = "implementing"
	// StatusComplete is terminal. An item may only be complete when all of
	// its children are complete.
	StatusComplete Status = "complete"
	// StatusFailed is terminal. A failed leaf is recorded and skipped, not
	// retried.
	StatusFailed Status = "failed"
	// StatusBlocked is a side-state for items with unmet dependencies. It
	// is left only once every dependency is complete.
	StatusBlocked Status = "blocked"
)

// IsTerminal reports whether the status is final for an item.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether moving from one status to another is legal.
//
// The machine is planned -> researching -> implementing -> complete|failed,
// with blocked entered from planned or implementing on an unmet dependency
// and exited once dependencies complete. Ancestors skip researching and move
// planned -> implementing directly when their first child starts.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPlanned:
		return to == StatusResearching || to == StatusImplementing || to == StatusBlocked
	case StatusResearching:
		return to == StatusImplementing || to == StatusFailed || to == StatusBlocked
	case StatusImplementing:
		return to == StatusComplete || to == StatusFailed || to == StatusBlocked
	case StatusBlocked:
		return to == StatusResearching || to == StatusImplementing
	default:
		// complete and failed are terminal
		return false
	}
}

// Level identifies an item's depth in the hierarchy.
type Level string

const (
	LevelPhase     Level = "phase"
	LevelMilestone Level = "milestone"
	LevelTask      Level = "task"
	LevelSubtask   Level = "subtask"
)

// ChildLevel returns the level nested under l, or "" for subtasks.
func ChildLevel(l Level) Level {
	switch l {
	case LevelPhase:
		return LevelMilestone
	case LevelMilestone:
		return LevelTask
	case LevelTask:
		return LevelSubtask
	default:
		return ""
	}
}

// Item is one node of the decomposed backlog tree.
type Item struct {
	// ID is the hierarchical dotted id, e.g. "P1.M1.T1.S1".
	ID string `json:"id"`

	// Title is the short human-readable summary.
	Title string `json:"title"`

	// Level is the item's depth: phase, milestone, task, or subtask.
	Level Level `json:"level"`

	// Status is the item's current state.
	Status Status `json:"status"`

	// DependsOn lists item ids that must be complete before this item may
	// run. Dependencies may cross branches of the tree.
	DependsOn []string `json:"depends_on,omitempty"`

	// ContextScope carries free-form metadata for the subtask runtime.
	ContextScope map[string]any `json:"context_scope,omitempty"`

	// Children holds the next-level items in declaration order. Empty for
	// subtasks.
	Children []*Item `json:"children,omitempty"`
}

// IsLeaf reports whether the item is an executable subtask.
func (it *Item) IsLeaf() bool {
	return it.Level == LevelSubtask
}

// Registry is the ordered collection of top-level phases and the unit of
// persistence: it serializes to tasks.json as {"backlog":[...]}.
type Registry struct {
	Backlog []*Item `json:"backlog"`
}

// NewRegistry returns an empty registry, the state of a freshly created
// session.
func NewRegistry() *Registry {
	return &Registry{Backlog: []*Item{}}
}

// Walk visits every item depth-first in declaration order. Returning false
// from fn stops the walk.
func (r *Registry) Walk(fn func(item *Item, parent *Item) bool) {
	var walk func(items []*Item, parent *Item) bool
	walk = func(items []*Item, parent *Item) bool {
		for _, it := range items {
			if !fn(it, parent) {
				return false
			}
			if !walk(it.Children, it) {
				return false
			}
		}
		return true
	}
	walk(r.Backlog, nil)
}

// Find returns the item with the given id, or ErrItemNotFound.
func (r *Registry) Find(id string) (*Item, error) {
	var found *Item
	r.Walk(func(it *Item, parent *Item) bool {
		if it.ID == id {
			found = it
			return false
		}
		return true
	})
	if found == nil {
		return nil, ErrItemNotFound
	}
	return found, nil
}

// Parent returns the parent of the item with the given id. Top-level items
// have a nil parent. Unknown ids return ErrItemNotFound.
func (r *Registry) Parent(id string) (*Item, error) {
	var parentOf *Item
	found := false
	r.Walk(func(it *Item, parent *Item) bool {
		if it.ID == id {
			parentOf = parent
			found = true
			return false
		}
		return true
	})
	if !found {
		return nil, ErrItemNotFound
	}
	return parentOf, nil
}

// Leaves returns all subtask items in declaration order. This is the
// orchestrator's execution queue.
func (r *Registry) Leaves() []*Item {
	var leaves []*Item
	r.Walk(func(it *Item, parent *Item) bool {
		if it.IsLeaf() {
			leaves = append(leaves, it)
		}
		return true
	})
	return leaves
}

// Len returns the total number of items at all levels.
func (r *Registry) Len() int {
	n := 0
	r.Walk(func(it *Item, parent *Item) bool {
		n++
		return true
	})
	return n
}

// Counts tallies leaf items by status.
func (r *Registry) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, leaf := range r.Leaves() {
		counts[leaf.Status]++
	}
	return counts
}
