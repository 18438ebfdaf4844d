// Package errors provides centralized error definitions and error handling
// utilities for the prdflow codebase. It defines a tagged error taxonomy,
// constructors with context wrapping, and the fatal/non-fatal classification
// that governs whether the pipeline aborts or records a failure and
// continues.
//
// # Error Taxonomy
//
// Every structured error carries a Kind and a machine-checkable Code:
//
//   - KindSession: session directory and file persistence failures
//   - KindEnvironment: missing or invalid runtime configuration
//   - KindValidation: structural PRD or backlog schema violations
//   - KindTask: an individual work-item execution failure
//   - KindAgent: a failure originating from the external subtask runtime
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewSessionError("failed to write tasks.json", cause).
//		WithCode(errors.CodeSessionSaveFailed)
//
//	err := errors.NewValidationError("PRD structure invalid", nil).
//		WithCode(errors.CodeInvalidInput).
//		WithOperation("parse_prd")
//
// Checking errors:
//
//	var perr *errors.Error
//	if errors.As(err, &perr) { ... }
//
//	if errors.IsFatal(err, false) { ... }
//
// # Classification
//
// IsFatal implements a fixed decision table: environment errors always abort,
// session errors abort only when loading or saving session state failed,
// validation errors abort only for invalid input discovered while parsing the
// PRD, and task or agent errors never abort on their own. The classifier
// fails open (non-fatal) for anything it does not recognize, so an
// unclassified failure costs one work item rather than the whole run.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Kind identifies the subsystem an error originated from. It is the primary
// input to fatality classification.
type Kind string

const (
	// KindSession covers session directory and file persistence failures.
	KindSession Kind = "session"
	// KindEnvironment covers missing or invalid runtime configuration, such
	// as an unavailable agent command or absent credentials.
	KindEnvironment Kind = "environment"
	// KindValidation covers structural violations in the PRD or in a
	// decomposed backlog.
	KindValidation Kind = "validation"
	// KindTask covers failures scoped to a single work item.
	KindTask Kind = "task"
	// KindAgent covers failures originating from the external subtask
	// runtime.
	KindAgent Kind = "agent"
)

// Code is a machine-checkable error code. Codes refine a Kind; the
// combination drives the fatality decision table.
type Code string

// Session codes
const (
	// CodeSessionLoadFailed indicates session state could not be read or
	// parsed. Fatal: no usable session identity exists.
	CodeSessionLoadFailed Code = "SESSION_LOAD_FAILED"
	// CodeSessionSaveFailed indicates session state could not be persisted.
	// Fatal: continuing would silently lose progress.
	CodeSessionSaveFailed Code = "SESSION_SAVE_FAILED"
	// CodeSessionLocked indicates another process holds the session lock.
	CodeSessionLocked Code = "SESSION_LOCKED"
)

// Environment codes
const (
	// CodeInvalidConfig indicates the resolved configuration failed
	// validation.
	CodeInvalidConfig Code = "INVALID_CONFIG"
	// CodeMissingCredentials indicates a required credential is absent.
	CodeMissingCredentials Code = "MISSING_CREDENTIALS"
	// CodeAgentUnavailable indicates the configured agent command cannot be
	// resolved.
	CodeAgentUnavailable Code = "AGENT_UNAVAILABLE"
)

// Validation codes
const (
	// CodeInvalidInput indicates the validated document is structurally
	// unusable.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeSchemaViolation indicates a well-formed document violated the
	// expected schema.
	CodeSchemaViolation Code = "SCHEMA_VIOLATION"
)

// Task codes
const (
	// CodeInvalidTransition indicates an illegal status transition was
	// requested.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	// CodeExecutionFailed indicates a work item's execution failed.
	CodeExecutionFailed Code = "EXECUTION_FAILED"
	// CodeCommitFailed indicates the post-execution commit failed.
	CodeCommitFailed Code = "COMMIT_FAILED"
	// CodeCancelled indicates execution was cancelled by the caller.
	CodeCancelled Code = "CANCELLED"
)

// Agent codes
const (
	// CodeAgentFailed indicates the subtask runtime reported failure.
	CodeAgentFailed Code = "AGENT_FAILED"
	// CodeAgentTimeout indicates the subtask runtime exceeded its deadline.
	CodeAgentTimeout Code = "AGENT_TIMEOUT"
	// CodeBadResponse indicates the subtask runtime's output could not be
	// parsed.
	CodeBadResponse Code = "BAD_RESPONSE"
)

// ContextOperation is the context key naming the operation during which a
// validation error occurred. Parsing the PRD sets it to "parse_prd".
const ContextOperation = "operation"

// OperationParsePRD is the operation value that makes an invalid-input
// validation error fatal.
const OperationParsePRD = "parse_prd"

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that no session exists for a hash or id.
	ErrSessionNotFound = New("session not found")
	// ErrSessionLocked indicates that a session is locked by another process.
	ErrSessionLocked = New("session is locked")
	// ErrSessionCorrupted indicates that persisted session data is corrupted.
	ErrSessionCorrupted = New("session data corrupted")
)

// -----------------------------------------------------------------------------
// Error
// -----------------------------------------------------------------------------

// Error is the structured error type carried through the pipeline. It is a
// tagged record rather than a type hierarchy: Kind and Code together describe
// what happened, Context carries free-form tags such as the operation name,
// and ItemID pins the error to a work item when one was involved.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	ItemID  string
	Context map[string]string
	cause   error
}

// newError constructs an Error of the given kind.
func newError(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		cause:   cause,
	}
}

// NewSessionError creates a session-kind error.
func NewSessionError(message string, cause error) *Error {
	return newError(KindSession, message, cause)
}

// NewEnvironmentError creates an environment-kind error.
func NewEnvironmentError(message string, cause error) *Error {
	return newError(KindEnvironment, message, cause)
}

// NewValidationError creates a validation-kind error.
func NewValidationError(message string, cause error) *Error {
	return newError(KindValidation, message, cause)
}

// NewTaskError creates a task-kind error.
func NewTaskError(message string, cause error) *Error {
	return newError(KindTask, message, cause)
}

// NewAgentError creates an agent-kind error.
func NewAgentError(message string, cause error) *Error {
	return newError(KindAgent, message, cause)
}

// WithCode sets the machine-checkable code.
func (e *Error) WithCode(code Code) *Error {
	e.Code = code
	return e
}

// WithItem associates the error with a work item id.
func (e *Error) WithItem(itemID string) *Error {
	e.ItemID = itemID
	return e
}

// WithContext attaches a context tag.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithOperation attaches the operation context tag.
func (e *Error) WithOperation(op string) *Error {
	return e.WithContext(ContextOperation, op)
}

// Operation returns the operation context tag, or "" when unset.
func (e *Error) Operation() string {
	return e.Context[ContextOperation]
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(" error")
	if e.Code != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Code))
	}
	if e.ItemID != "" {
		sb.WriteString(fmt.Sprintf(" [item=%s]", e.ItemID))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsFatal reports whether err must abort the pipeline. It is a pure function
// of the error's kind, code, and operation context.
//
// The decision table:
//
//   - continueOnError true: never fatal, regardless of the error
//   - not a structured Error (nil, plain error): not fatal
//   - environment: always fatal
//   - session: fatal only for SESSION_LOAD_FAILED and SESSION_SAVE_FAILED
//   - validation: fatal only for INVALID_INPUT during operation "parse_prd"
//   - task, agent: never fatal
//   - anything else: not fatal
func IsFatal(err error, continueOnError bool) bool {
	if continueOnError {
		return false
	}
	var e *Error
	if !As(err, &e) || e == nil {
		return false
	}

	switch e.Kind {
	case KindEnvironment:
		return true
	case KindSession:
		return e.Code == CodeSessionLoadFailed || e.Code == CodeSessionSaveFailed
	case KindValidation:
		return e.Code == CodeInvalidInput && e.Operation() == OperationParsePRD
	case KindTask, KindAgent:
		return false
	default:
		return false
	}
}

// KindOf returns the Kind of a structured error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) && e != nil {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of a structured error, or "" for anything else.
func CodeOf(err error) Code {
	var e *Error
	if As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// -----------------------------------------------------------------------------
// Failure Records
// -----------------------------------------------------------------------------

// Record is the durable account of a single non-fatal failure. Records are
// appended as execution continues and aggregated into the final report.
type Record struct {
	ItemID    string            `json:"item_id"`
	Kind      Kind              `json:"kind"`
	Code      Code              `json:"code,omitempty"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewRecord builds a Record for err attributed to the given item. Structured
// errors contribute their kind, code, and context; plain errors are recorded
// with their message only.
func NewRecord(itemID string, err error) Record {
	rec := Record{
		ItemID:    itemID,
		Timestamp: time.Now().UTC(),
	}
	var e *Error
	if As(err, &e) && e != nil {
		rec.Kind = e.Kind
		rec.Code = e.Code
		rec.Message = e.Message
		if len(e.Context) > 0 {
			rec.Context = make(map[string]string, len(e.Context))
			for k, v := range e.Context {
				rec.Context[k] = v
			}
		}
		if rec.ItemID == "" {
			rec.ItemID = e.ItemID
		}
	} else if err != nil {
		rec.Message = err.Error()
	}
	return rec
}
