package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/logging"
)

// executeSubtask drives one leaf through its lifecycle and classifies the
// result. Non-fatal failures mark the leaf failed and return nil so the
// queue continues; fatal failures and cancellation are returned to stop the
// run.
func (o *Orchestrator) executeSubtask(ctx context.Context, it *backlog.Item) error {
	o.mu.Lock()
	o.sess.CurrentItemID = it.ID
	o.mu.Unlock()

	log := o.log.WithItem(it.ID)
	for _, h := range o.hooks {
		h.Before(ctx, it)
	}
	res, err := o.runSubtask(ctx, it, log)
	for _, h := range o.hooks {
		h.After(ctx, it, res, err)
	}
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		return errors.NewTaskError("execution cancelled", err).
			WithCode(errors.CodeCancelled).
			WithItem(it.ID)
	}
	if errors.IsFatal(err, o.continueOnError) {
		return err
	}
	return o.markFailed(it, err, log)
}

// runSubtask performs the leaf's state walk: researching while the runtime
// executes, implementing while its changes are committed, then complete. A
// leaf found already in implementing was interrupted after its agent
// succeeded, so it resumes at the commit stage without re-running the agent.
func (o *Orchestrator) runSubtask(ctx context.Context, it *backlog.Item, log *logging.Logger) (*agent.Result, error) {
	var res *agent.Result
	if o.statusOf(it) == backlog.StatusImplementing {
		log.Info("resuming interrupted subtask at commit stage")
	} else {
		if err := o.markAncestorsImplementing(it); err != nil {
			return nil, err
		}
		if err := o.setStatus(it, backlog.StatusResearching, "execution started"); err != nil {
			return nil, err
		}

		var err error
		res, err = o.invokeRuntime(ctx, it, log)
		if err != nil {
			return res, err
		}
		if res == nil {
			return nil, errors.NewAgentError("runtime returned no result", nil).
				WithCode(errors.CodeBadResponse).
				WithItem(it.ID)
		}
		if !res.Success {
			// The full transcript is already on disk under artifacts/.
			return res, errors.NewAgentError("runtime reported failure", nil).
				WithCode(errors.CodeAgentFailed).
				WithItem(it.ID)
		}
		if err := o.setStatus(it, backlog.StatusImplementing, "agent succeeded"); err != nil {
			return res, err
		}
	}

	if err := o.commitSubtask(it, log); err != nil {
		return res, err
	}
	if err := o.setStatus(it, backlog.StatusComplete, "subtask complete"); err != nil {
		return res, err
	}
	return res, o.completeAncestors(it)
}

// invokeRuntime calls the subtask runtime under the retry policy. Only
// agent-kind errors are retried; everything else surfaces immediately.
func (o *Orchestrator) invokeRuntime(ctx context.Context, it *backlog.Item, log *logging.Logger) (*agent.Result, error) {
	sc := agent.SessionContext{
		SessionID:   o.sess.ID,
		SessionPath: o.sess.Path,
		PRDPath:     o.sess.SnapshotPath(),
	}

	pol := o.retry
	pol.Retryable = func(err error) bool {
		return errors.KindOf(err) == errors.KindAgent
	}
	pol.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("retrying subtask",
			"attempt", attempt,
			"max_attempts", pol.MaxAttempts,
			"delay", delay.Round(time.Millisecond).String(),
			"error", err.Error(),
		)
	}

	var res *agent.Result
	err := pol.Do(ctx, func(ctx context.Context) error {
		var execErr error
		res, execErr = o.runtime.Execute(ctx, it, sc)
		return execErr
	})
	return res, err
}

// commitSubtask commits whatever the subtask changed. A clean tree is fine:
// not every subtask touches files. Git runs under its own lock so parallel
// workers never interleave stage and commit.
func (o *Orchestrator) commitSubtask(it *backlog.Item, log *logging.Logger) error {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()

	pending, err := o.git.HasPendingChanges()
	if err != nil {
		return errors.NewTaskError("failed to inspect working tree", err).
			WithCode(errors.CodeCommitFailed).
			WithItem(it.ID)
	}
	if !pending {
		log.Info("No files to commit")
		return nil
	}

	hash, err := o.git.Commit(commitMessage(it))
	if err != nil {
		return errors.NewTaskError("failed to commit changes", err).
			WithCode(errors.CodeCommitFailed).
			WithItem(it.ID)
	}
	if hash == "" {
		log.Info("No files to commit")
		return nil
	}

	o.mu.Lock()
	o.commits = append(o.commits, CommitRef{ItemID: it.ID, Hash: hash})
	o.mu.Unlock()

	log.Info("committed subtask changes", "commit", hash)
	o.publish(event.NewItemCommittedEvent(it.ID, hash))
	return nil
}

// markFailed records a non-fatal failure: the leaf moves to failed, the
// failure is appended to the run's record, and an item-failed event goes
// out. Returns nil so the caller can continue the queue.
func (o *Orchestrator) markFailed(it *backlog.Item, cause error, log *logging.Logger) error {
	if err := o.setStatus(it, backlog.StatusFailed, "execution failed"); err != nil {
		// The failure could not even be recorded; surface both.
		return errors.Join(cause, err)
	}

	rec := errors.NewRecord(it.ID, cause)
	o.mu.Lock()
	o.failures = append(o.failures, rec)
	o.mu.Unlock()

	log.Error("subtask failed",
		"kind", string(rec.Kind),
		"code", string(rec.Code),
		"error", cause.Error(),
	)
	o.publish(event.NewItemFailedEvent(it.ID, string(rec.Kind), string(rec.Code), rec.Message))
	return nil
}

func commitMessage(it *backlog.Item) string {
	return fmt.Sprintf("%s: %s", it.ID, it.Title)
}
