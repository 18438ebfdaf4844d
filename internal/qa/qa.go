// Package qa implements the post-execution review pass. A Reviewer looks at
// what a run actually produced and reports whether there is anything to
// verify; a run with no commits and no failures has nothing reviewable, and
// the pipeline surfaces that as its qa_skipped outcome.
package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/orchestrator"
	"github.com/prdflow/prdflow/internal/session"
)

// Verdict is the result of a review pass.
type Verdict struct {
	// NothingToVerify reports that the run produced no reviewable work:
	// no commits and no failures.
	NothingToVerify bool `json:"nothing_to_verify"`

	// Notes carries human-readable review observations, in order.
	Notes []string `json:"notes,omitempty"`
}

// Reviewer inspects a finished run.
type Reviewer interface {
	Review(ctx context.Context, sess *session.Session, out *orchestrator.Outcome) (*Verdict, error)
}

// CommitAudit reviews a run by auditing its commit trail against the
// registry: it flags completed subtasks that left no commit, summarizes
// failures, and detects the nothing-to-verify case.
type CommitAudit struct {
	log *logging.Logger
}

// NewCommitAudit returns a CommitAudit. The logger may be nil.
func NewCommitAudit(logger *logging.Logger) *CommitAudit {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommitAudit{log: logger}
}

// Review implements Reviewer.
func (a *CommitAudit) Review(ctx context.Context, sess *session.Session, out *orchestrator.Outcome) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(out.Commits) == 0 && out.Failed == 0 {
		a.log.Info("nothing to verify", "session_id", sess.ID)
		return &Verdict{
			NothingToVerify: true,
			Notes:           []string{"no commits and no failures; nothing to verify"},
		}, nil
	}

	committed := make(map[string]bool, len(out.Commits))
	for _, c := range out.Commits {
		committed[c.ItemID] = true
	}

	notes := []string{
		fmt.Sprintf("%d commit(s) across %d subtask(s)", len(out.Commits), len(committed)),
	}

	var uncommitted []string
	for _, leaf := range sess.Registry.Leaves() {
		if leaf.Status == backlog.StatusComplete && !committed[leaf.ID] {
			uncommitted = append(uncommitted, leaf.ID)
		}
	}
	if len(uncommitted) > 0 {
		notes = append(notes, fmt.Sprintf("completed without a commit: %s", strings.Join(uncommitted, ", ")))
	}

	for _, f := range out.Failures {
		notes = append(notes, fmt.Sprintf("failed: %s: %s", f.ItemID, f.Message))
	}
	if out.Blocked > 0 {
		notes = append(notes, fmt.Sprintf("%d subtask(s) left blocked", out.Blocked))
	}

	a.log.Info("review finished",
		"session_id", sess.ID,
		"commits", len(out.Commits),
		"failures", len(out.Failures),
		"notes", len(notes),
	)
	return &Verdict{Notes: notes}, nil
}

// Disabled returns a reviewer that performs no review. It never reports
// NothingToVerify, so the pipeline outcome is left untouched.
func Disabled() Reviewer {
	return disabled{}
}

type disabled struct{}

func (disabled) Review(ctx context.Context, sess *session.Session, out *orchestrator.Outcome) (*Verdict, error) {
	return &Verdict{Notes: []string{"review disabled"}}, nil
}
