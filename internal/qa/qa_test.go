package qa

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/orchestrator"
	"github.com/prdflow/prdflow/internal/session"
)

func makeSession(statuses map[string]backlog.Status) *session.Session {
	leaves := []*backlog.Item{
		{ID: "P1.M1.T1.S1", Title: "one", Level: backlog.LevelSubtask, Status: backlog.StatusPlanned},
		{ID: "P1.M1.T1.S2", Title: "two", Level: backlog.LevelSubtask, Status: backlog.StatusPlanned},
	}
	for _, leaf := range leaves {
		if st, ok := statuses[leaf.ID]; ok {
			leaf.Status = st
		}
	}
	reg := &backlog.Registry{Backlog: []*backlog.Item{
		{
			ID: "P1", Title: "Phase", Level: backlog.LevelPhase, Status: backlog.StatusImplementing,
			Children: []*backlog.Item{
				{
					ID: "P1.M1", Title: "Milestone", Level: backlog.LevelMilestone, Status: backlog.StatusImplementing,
					Children: []*backlog.Item{
						{
							ID: "P1.M1.T1", Title: "Task", Level: backlog.LevelTask, Status: backlog.StatusImplementing,
							Children: leaves,
						},
					},
				},
			},
		},
	}}
	return &session.Session{ID: "001_abcdef123456", Registry: reg}
}

func TestCommitAuditNothingToVerify(t *testing.T) {
	sess := makeSession(nil)
	out := &orchestrator.Outcome{Completed: 0}

	verdict, err := NewCommitAudit(nil).Review(context.Background(), sess, out)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !verdict.NothingToVerify {
		t.Error("NothingToVerify = false, want true")
	}
	if len(verdict.Notes) != 1 {
		t.Errorf("notes = %v, want the single skip note", verdict.Notes)
	}
}

func TestCommitAuditSummarizesCommitsAndFailures(t *testing.T) {
	sess := makeSession(map[string]backlog.Status{
		"P1.M1.T1.S1": backlog.StatusComplete,
		"P1.M1.T1.S2": backlog.StatusFailed,
	})
	out := &orchestrator.Outcome{
		Completed: 1,
		Failed:    1,
		Commits:   []orchestrator.CommitRef{{ItemID: "P1.M1.T1.S1", Hash: "commit0001"}},
		Failures: []errors.Record{{
			ItemID:    "P1.M1.T1.S2",
			Kind:      errors.KindAgent,
			Code:      errors.CodeAgentFailed,
			Message:   "runtime reported failure",
			Timestamp: time.Now().UTC(),
		}},
	}

	verdict, err := NewCommitAudit(nil).Review(context.Background(), sess, out)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if verdict.NothingToVerify {
		t.Error("NothingToVerify = true, want false")
	}

	joined := strings.Join(verdict.Notes, "\n")
	if !strings.Contains(joined, "1 commit(s) across 1 subtask(s)") {
		t.Errorf("notes missing commit summary: %v", verdict.Notes)
	}
	if !strings.Contains(joined, "failed: P1.M1.T1.S2: runtime reported failure") {
		t.Errorf("notes missing failure line: %v", verdict.Notes)
	}
	if strings.Contains(joined, "completed without a commit") {
		t.Errorf("unexpected uncommitted note: %v", verdict.Notes)
	}
}

func TestCommitAuditFlagsCompletedWithoutCommit(t *testing.T) {
	sess := makeSession(map[string]backlog.Status{
		"P1.M1.T1.S1": backlog.StatusComplete,
		"P1.M1.T1.S2": backlog.StatusComplete,
	})
	out := &orchestrator.Outcome{
		Completed: 2,
		Commits:   []orchestrator.CommitRef{{ItemID: "P1.M1.T1.S1", Hash: "commit0001"}},
	}

	verdict, err := NewCommitAudit(nil).Review(context.Background(), sess, out)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	joined := strings.Join(verdict.Notes, "\n")
	if !strings.Contains(joined, "completed without a commit: P1.M1.T1.S2") {
		t.Errorf("notes = %v, want uncommitted flag for S2", verdict.Notes)
	}
}

func TestCommitAuditFailuresAloneAreReviewable(t *testing.T) {
	sess := makeSession(map[string]backlog.Status{"P1.M1.T1.S1": backlog.StatusFailed})
	out := &orchestrator.Outcome{
		Failed:   1,
		Blocked:  1,
		Failures: []errors.Record{{ItemID: "P1.M1.T1.S1", Message: "exploded"}},
	}

	verdict, err := NewCommitAudit(nil).Review(context.Background(), sess, out)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if verdict.NothingToVerify {
		t.Error("NothingToVerify = true; failures are reviewable work")
	}
	if joined := strings.Join(verdict.Notes, "\n"); !strings.Contains(joined, "1 subtask(s) left blocked") {
		t.Errorf("notes = %v, want blocked summary", verdict.Notes)
	}
}

func TestCommitAuditHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCommitAudit(nil).Review(ctx, makeSession(nil), &orchestrator.Outcome{})
	if err != context.Canceled {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDisabledReviewer(t *testing.T) {
	verdict, err := Disabled().Review(context.Background(), makeSession(nil), &orchestrator.Outcome{})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if verdict.NothingToVerify {
		t.Error("disabled reviewer must not report NothingToVerify")
	}
	if len(verdict.Notes) != 1 || verdict.Notes[0] != "review disabled" {
		t.Errorf("notes = %v", verdict.Notes)
	}
}
