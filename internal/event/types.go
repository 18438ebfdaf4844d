package event

import "time"

// Event type identifiers, using the "category.action" convention.
const (
	TypeSessionCreated    = "session.created"
	TypeSessionLoaded     = "session.loaded"
	TypeBacklogDecomposed = "backlog.decomposed"
	TypeItemStatus        = "item.status"
	TypeItemFailed        = "item.failed"
	TypeItemCommitted     = "item.committed"
	TypePipelineStage     = "pipeline.stage"
	TypePipelineDone      = "pipeline.done"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "item.status").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Events
// -----------------------------------------------------------------------------

// SessionCreatedEvent is emitted when a new session directory is created.
type SessionCreatedEvent struct {
	baseEvent
	SessionID string // Session id, e.g. "001_14b9dc2a33c7"
	Path      string // Absolute session directory path
	Hash      string // 12-hex content hash
	Sequence  int    // Session sequence number
	ParentID  string // Parent session id for delta sessions, else empty
}

// NewSessionCreatedEvent creates a SessionCreatedEvent.
func NewSessionCreatedEvent(sessionID, path, hash string, sequence int, parentID string) SessionCreatedEvent {
	return SessionCreatedEvent{
		baseEvent: newBaseEvent(TypeSessionCreated),
		SessionID: sessionID,
		Path:      path,
		Hash:      hash,
		Sequence:  sequence,
		ParentID:  parentID,
	}
}

// SessionLoadedEvent is emitted when an existing session is loaded for an
// unchanged PRD.
type SessionLoadedEvent struct {
	baseEvent
	SessionID string // Session id
	Path      string // Absolute session directory path
	Items     int    // Number of leaf items in the loaded backlog
}

// NewSessionLoadedEvent creates a SessionLoadedEvent.
func NewSessionLoadedEvent(sessionID, path string, items int) SessionLoadedEvent {
	return SessionLoadedEvent{
		baseEvent: newBaseEvent(TypeSessionLoaded),
		SessionID: sessionID,
		Path:      path,
		Items:     items,
	}
}

// BacklogDecomposedEvent is emitted when the decomposition step populates a
// session's backlog for the first time.
type BacklogDecomposedEvent struct {
	baseEvent
	SessionID string // Session id
	Leaves    int    // Number of subtask leaves produced
	Source    string // Decomposer that produced the backlog, e.g. "agent" or "file"
}

// NewBacklogDecomposedEvent creates a BacklogDecomposedEvent.
func NewBacklogDecomposedEvent(sessionID string, leaves int, source string) BacklogDecomposedEvent {
	return BacklogDecomposedEvent{
		baseEvent: newBaseEvent(TypeBacklogDecomposed),
		SessionID: sessionID,
		Leaves:    leaves,
		Source:    source,
	}
}

// -----------------------------------------------------------------------------
// Work Item Events
// -----------------------------------------------------------------------------

// ItemStatusEvent is emitted on every status transition, after the registry
// has been durably persisted.
type ItemStatusEvent struct {
	baseEvent
	ItemID string // Work item id, e.g. "P1.M1.T1.S1"
	Level  string // Item level: phase, milestone, task, subtask
	Old    string // Previous status
	New    string // New status
	Reason string // Optional transition reason
}

// NewItemStatusEvent creates an ItemStatusEvent.
func NewItemStatusEvent(itemID, level, old, new_, reason string) ItemStatusEvent {
	return ItemStatusEvent{
		baseEvent: newBaseEvent(TypeItemStatus),
		ItemID:    itemID,
		Level:     level,
		Old:       old,
		New:       new_,
		Reason:    reason,
	}
}

// ItemFailedEvent is emitted when an item fails non-fatally and execution
// continues.
type ItemFailedEvent struct {
	baseEvent
	ItemID  string // Work item id
	Kind    string // Error kind
	Code    string // Error code
	Message string // Failure message
}

// NewItemFailedEvent creates an ItemFailedEvent.
func NewItemFailedEvent(itemID, kind, code, message string) ItemFailedEvent {
	return ItemFailedEvent{
		baseEvent: newBaseEvent(TypeItemFailed),
		ItemID:    itemID,
		Kind:      kind,
		Code:      code,
		Message:   message,
	}
}

// ItemCommittedEvent is emitted when a subtask's changes are committed.
type ItemCommittedEvent struct {
	baseEvent
	ItemID     string // Work item id
	CommitHash string // Resulting commit hash
}

// NewItemCommittedEvent creates an ItemCommittedEvent.
func NewItemCommittedEvent(itemID, commitHash string) ItemCommittedEvent {
	return ItemCommittedEvent{
		baseEvent:  newBaseEvent(TypeItemCommitted),
		ItemID:     itemID,
		CommitHash: commitHash,
	}
}

// -----------------------------------------------------------------------------
// Pipeline Events
// -----------------------------------------------------------------------------

// PipelineStageEvent is emitted when the pipeline driver enters a stage.
type PipelineStageEvent struct {
	baseEvent
	RunID string // Pipeline run id
	Stage string // Stage name: init, decompose, orchestrate, qa, report
}

// NewPipelineStageEvent creates a PipelineStageEvent.
func NewPipelineStageEvent(runID, stage string) PipelineStageEvent {
	return PipelineStageEvent{
		baseEvent: newBaseEvent(TypePipelineStage),
		RunID:     runID,
		Stage:     stage,
	}
}

// PipelineDoneEvent is emitted once per run with the terminal outcome.
type PipelineDoneEvent struct {
	baseEvent
	RunID     string // Pipeline run id
	SessionID string // Session the run operated on
	Outcome   string // Terminal outcome: complete, complete_with_failures, qa_skipped, aborted
	Completed int    // Count of completed leaves
	Failed    int    // Count of failed leaves
	Blocked   int    // Count of permanently blocked leaves
}

// NewPipelineDoneEvent creates a PipelineDoneEvent.
func NewPipelineDoneEvent(runID, sessionID, outcome string, completed, failed, blocked int) PipelineDoneEvent {
	return PipelineDoneEvent{
		baseEvent: newBaseEvent(TypePipelineDone),
		RunID:     runID,
		SessionID: sessionID,
		Outcome:   outcome,
		Completed: completed,
		Failed:    failed,
		Blocked:   blocked,
	}
}
