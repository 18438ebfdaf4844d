package errors

import (
	"fmt"
	"testing"
)

func TestIsFatalDecisionTable(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		continueOnError bool
		want            bool
	}{
		{
			name: "environment error is always fatal",
			err:  NewEnvironmentError("missing credentials", nil).WithCode(CodeMissingCredentials),
			want: true,
		},
		{
			name: "environment error without code is still fatal",
			err:  NewEnvironmentError("bad environment", nil),
			want: true,
		},
		{
			name: "session load failure is fatal",
			err:  NewSessionError("cannot read tasks.json", nil).WithCode(CodeSessionLoadFailed),
			want: true,
		},
		{
			name: "session save failure is fatal",
			err:  NewSessionError("cannot write tasks.json", nil).WithCode(CodeSessionSaveFailed),
			want: true,
		},
		{
			name: "other session codes are not fatal",
			err:  NewSessionError("lock held elsewhere", nil).WithCode(CodeSessionLocked),
			want: false,
		},
		{
			name: "session error without code is not fatal",
			err:  NewSessionError("unspecified", nil),
			want: false,
		},
		{
			name: "invalid input while parsing PRD is fatal",
			err:  NewValidationError("unusable PRD", nil).WithCode(CodeInvalidInput).WithOperation(OperationParsePRD),
			want: true,
		},
		{
			name: "invalid input in another operation is not fatal",
			err:  NewValidationError("bad backlog", nil).WithCode(CodeInvalidInput).WithOperation("parse_backlog"),
			want: false,
		},
		{
			name: "invalid input without operation is not fatal",
			err:  NewValidationError("bad input", nil).WithCode(CodeInvalidInput),
			want: false,
		},
		{
			name: "schema violation while parsing PRD is not fatal",
			err:  NewValidationError("schema", nil).WithCode(CodeSchemaViolation).WithOperation(OperationParsePRD),
			want: false,
		},
		{
			name: "task error is never fatal",
			err:  NewTaskError("item exploded", nil).WithCode(CodeExecutionFailed),
			want: false,
		},
		{
			name: "agent error is never fatal",
			err:  NewAgentError("runtime crashed", nil).WithCode(CodeAgentFailed),
			want: false,
		},
		{
			name: "nil error is not fatal",
			err:  nil,
			want: false,
		},
		{
			name: "plain error is not fatal",
			err:  New("something went wrong"),
			want: false,
		},
		{
			name:            "continueOnError overrides environment errors",
			err:             NewEnvironmentError("missing credentials", nil),
			continueOnError: true,
			want:            false,
		},
		{
			name:            "continueOnError overrides session save failures",
			err:             NewSessionError("save", nil).WithCode(CodeSessionSaveFailed),
			continueOnError: true,
			want:            false,
		},
		{
			name:            "continueOnError overrides plain errors too",
			err:             New("anything"),
			continueOnError: true,
			want:            false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsFatal(tt.err, tt.continueOnError)
			if got != tt.want {
				t.Errorf("IsFatal(%v, %v) = %v, want %v", tt.err, tt.continueOnError, got, tt.want)
			}
		})
	}
}

func TestIsFatalSeesThroughWrapping(t *testing.T) {
	inner := NewEnvironmentError("no API key", nil).WithCode(CodeMissingCredentials)
	wrapped := fmt.Errorf("starting agent: %w", inner)

	if !IsFatal(wrapped, false) {
		t.Error("IsFatal should classify a wrapped environment error as fatal")
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := New("disk full")
	err := NewSessionError("failed to write tasks.json", cause).
		WithCode(CodeSessionSaveFailed).
		WithItem("P1.M1.T1.S1")

	got := err.Error()
	want := "session error [SESSION_SAVE_FAILED] [item=P1.M1.T1.S1]: failed to write tasks.json: disk full"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorFormattingMinimal(t *testing.T) {
	err := NewTaskError("transition rejected", nil)
	if got := err.Error(); got != "task error: transition rejected" {
		t.Errorf("Error() = %q, want %q", got, "task error: transition rejected")
	}
}

func TestUnwrap(t *testing.T) {
	cause := New("root cause")
	err := NewAgentError("runtime failed", cause)

	if !Is(err, cause) {
		t.Error("Is should find the wrapped cause")
	}
	if Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", Unwrap(err), cause)
	}
}

func TestAsExtractsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewValidationError("bad", nil).WithCode(CodeInvalidInput).WithOperation(OperationParsePRD))

	var e *Error
	if !As(err, &e) {
		t.Fatal("As should extract *Error through wrapping")
	}
	if e.Kind != KindValidation {
		t.Errorf("Kind = %s, want %s", e.Kind, KindValidation)
	}
	if e.Operation() != OperationParsePRD {
		t.Errorf("Operation() = %s, want %s", e.Operation(), OperationParsePRD)
	}
}

func TestKindOfAndCodeOf(t *testing.T) {
	err := NewAgentError("timeout", nil).WithCode(CodeAgentTimeout)

	if got := KindOf(err); got != KindAgent {
		t.Errorf("KindOf() = %s, want %s", got, KindAgent)
	}
	if got := CodeOf(err); got != CodeAgentTimeout {
		t.Errorf("CodeOf() = %s, want %s", got, CodeAgentTimeout)
	}
	if got := KindOf(New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestNewRecord(t *testing.T) {
	err := NewAgentError("runtime crashed", New("exit status 1")).
		WithCode(CodeAgentFailed).
		WithContext("attempt", "2")

	rec := NewRecord("P1.M1.T1.S2", err)

	if rec.ItemID != "P1.M1.T1.S2" {
		t.Errorf("ItemID = %s, want P1.M1.T1.S2", rec.ItemID)
	}
	if rec.Kind != KindAgent {
		t.Errorf("Kind = %s, want %s", rec.Kind, KindAgent)
	}
	if rec.Code != CodeAgentFailed {
		t.Errorf("Code = %s, want %s", rec.Code, CodeAgentFailed)
	}
	if rec.Message != "runtime crashed" {
		t.Errorf("Message = %q, want %q", rec.Message, "runtime crashed")
	}
	if rec.Context["attempt"] != "2" {
		t.Errorf("Context[attempt] = %q, want 2", rec.Context["attempt"])
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNewRecordFallsBackToItemOnError(t *testing.T) {
	err := NewTaskError("failed", nil).WithItem("P2.M1.T1.S1")
	rec := NewRecord("", err)
	if rec.ItemID != "P2.M1.T1.S1" {
		t.Errorf("ItemID = %s, want P2.M1.T1.S1", rec.ItemID)
	}
}

func TestNewRecordPlainError(t *testing.T) {
	rec := NewRecord("P1.M1.T1.S1", New("boom"))
	if rec.Kind != "" {
		t.Errorf("Kind = %q, want empty for plain error", rec.Kind)
	}
	if rec.Message != "boom" {
		t.Errorf("Message = %q, want boom", rec.Message)
	}
}
