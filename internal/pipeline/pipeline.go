package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/orchestrator"
	"github.com/prdflow/prdflow/internal/qa"
	"github.com/prdflow/prdflow/internal/report"
	"github.com/prdflow/prdflow/internal/session"
)

// Stage names published on the bus as the run advances.
const (
	StageInit        = "init"
	StageDecompose   = "decompose"
	StageOrchestrate = "orchestrate"
	StageQA          = "qa"
	StageReport      = "report"
)

// Pipeline outcomes recorded on the report.
const (
	OutcomeComplete             = "complete"
	OutcomeCompleteWithFailures = "complete_with_failures"
	OutcomeQASkipped            = "qa_skipped"
	OutcomeAborted              = "aborted"
	OutcomeDryRun               = "dry_run"
)

// Config holds the required collaborators for a Pipeline.
type Config struct {
	// Sessions resolves PRDs to session directories and persists the
	// registry.
	Sessions *session.Manager

	// Runtime executes subtasks; the default decomposer prompts it for
	// the backlog as well.
	Runtime agent.Runtime

	// PRDPath is the source document driving the run.
	PRDPath string

	// PlanRoot is the directory session directories live under.
	PlanRoot string
}

// Pipeline drives one full run: session init, decomposition when the
// session has no backlog yet, orchestration, QA, and the final report.
type Pipeline struct {
	cfg Config
	set settings
	log *logging.Logger
}

// New creates a Pipeline with the given configuration and options.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("pipeline requires a session manager")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("pipeline requires a subtask runtime")
	}
	if cfg.PRDPath == "" {
		return nil, fmt.Errorf("pipeline requires a PRD path")
	}
	if cfg.PlanRoot == "" {
		return nil, fmt.Errorf("pipeline requires a plan root")
	}

	set := defaultSettings()
	for _, opt := range opts {
		opt(&set)
	}
	if set.decomposer == nil {
		set.decomposer = NewAgentDecomposer(cfg.Runtime, set.logger)
	}
	if set.reviewer == nil {
		set.reviewer = qa.NewCommitAudit(set.logger)
	}

	return &Pipeline{cfg: cfg, set: set, log: set.logger}, nil
}

// Run executes the pipeline to completion and returns its report. When the
// orchestrator aborts, the report is still built and returned alongside the
// error so callers can show what was done before the stop.
func (p *Pipeline) Run(ctx context.Context) (*report.Report, error) {
	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := p.log.WithRun(runID)

	p.stage(runID, StageInit)
	sess, err := p.cfg.Sessions.Initialize(ctx, p.cfg.PRDPath, p.cfg.PlanRoot, p.set.sessionOpts)
	if err != nil {
		return nil, err
	}
	log.Info("session ready", "session", sess.ID, "items", sess.Registry.Len())

	lock, err := session.AcquireLock(sess.Path, sess.ID, log)
	if err != nil {
		return nil, err
	}
	// Bound by value: the session log below closes before this defer runs.
	defer func(log *logging.Logger) {
		if rerr := lock.Release(); rerr != nil {
			log.Warn("failed to release session lock", "error", rerr.Error())
		}
	}(log)

	// The session directory is only known now, so the per-session log file
	// starts here. A run must not abort because its log could not open.
	if p.set.sessionLog != nil {
		opts := *p.set.sessionLog
		opts.Dir = sess.Path
		if sessLog, lerr := logging.New(opts); lerr != nil {
			log.Warn("failed to create session log", "error", lerr.Error())
		} else {
			defer sessLog.Close()
			log = sessLog.WithRun(runID)
		}
	}

	if err := p.decompose(ctx, runID, sess, log); err != nil {
		return nil, err
	}

	if p.set.dryRun {
		rep := report.New(runID, sess, OutcomeDryRun, nil, nil, startedAt)
		rep.Render(p.set.out, sess.Registry, p.set.styled)
		return rep, nil
	}

	p.stage(runID, StageOrchestrate)
	orch, err := orchestrator.New(sess, p.cfg.Sessions, orchestrator.Options{
		Runtime:         p.cfg.Runtime,
		Git:             p.set.git,
		Logger:          log,
		Bus:             p.set.bus,
		Hooks:           p.set.hooks,
		ContinueOnError: p.set.continueOnError,
		MaxParallel:     p.set.maxParallel,
		Retry:           p.set.retryPolicy,
	})
	if err != nil {
		return nil, err
	}
	out, runErr := orch.Run(ctx)

	verdict := p.review(ctx, runID, sess, out, runErr, log)
	outcome := resolveOutcome(out, verdict, runErr)

	p.stage(runID, StageReport)
	var notes []string
	if verdict != nil {
		notes = verdict.Notes
	}
	rep := report.New(runID, sess, outcome, out, notes, startedAt)
	rep.Render(p.set.out, sess.Registry, p.set.styled)
	if path, err := rep.WriteArtifact(sess); err != nil {
		log.Warn("failed to write report artifact", "error", err.Error())
	} else {
		log.Info("report written", "path", path)
	}

	if p.set.bus != nil {
		p.set.bus.Publish(event.NewPipelineDoneEvent(
			runID, sess.ID, outcome, out.Completed, out.Failed, out.Blocked,
		))
	}
	return rep, runErr
}

// decompose populates the registry when the session has none yet. A session
// resumed with a persisted backlog skips the stage entirely, which is what
// makes re-runs against an unchanged PRD idempotent.
func (p *Pipeline) decompose(ctx context.Context, runID string, sess *session.Session, log *logging.Logger) error {
	if sess.Registry != nil && sess.Registry.Len() > 0 {
		log.Info("backlog already decomposed",
			"session", sess.ID,
			"leaves", len(sess.Registry.Leaves()),
		)
		return nil
	}

	p.stage(runID, StageDecompose)
	reg, err := p.set.decomposer.Decompose(ctx, sess)
	if err != nil {
		return err
	}

	sess.Registry = reg
	if err := p.cfg.Sessions.SaveTasks(sess); err != nil {
		return err
	}

	// The overview and briefs are documentation, not state; a failed write
	// is logged and the run proceeds.
	if err := writeOverview(sess, p.set.decomposer.Source()); err != nil {
		log.Warn("failed to write decomposition overview", "error", err.Error())
	}
	if err := writeBriefs(sess); err != nil {
		log.Warn("failed to write subtask briefs", "error", err.Error())
	}

	leaves := len(reg.Leaves())
	log.Info("backlog decomposed", "session", sess.ID, "leaves", leaves)
	if p.set.bus != nil {
		p.set.bus.Publish(event.NewBacklogDecomposedEvent(sess.ID, leaves, p.set.decomposer.Source()))
	}
	return nil
}

// review runs the configured reviewer. An aborted run skips QA: its context
// is typically dead and there is nothing final to audit. Reviewer errors
// are downgraded to a warning so a flaky audit cannot fail a finished run.
func (p *Pipeline) review(ctx context.Context, runID string, sess *session.Session, out *orchestrator.Outcome, runErr error, log *logging.Logger) *qa.Verdict {
	if runErr != nil {
		return nil
	}
	p.stage(runID, StageQA)
	verdict, err := p.set.reviewer.Review(ctx, sess, out)
	if err != nil {
		log.Warn("qa review failed", "error", err.Error())
		return nil
	}
	return verdict
}

// resolveOutcome maps the run result to the pipeline outcome. Abort wins,
// then partial failure, then the reviewer's nothing-to-verify signal.
func resolveOutcome(out *orchestrator.Outcome, verdict *qa.Verdict, runErr error) string {
	switch {
	case runErr != nil:
		return OutcomeAborted
	case !out.Clean():
		return OutcomeCompleteWithFailures
	case verdict != nil && verdict.NothingToVerify:
		return OutcomeQASkipped
	default:
		return OutcomeComplete
	}
}

func (p *Pipeline) stage(runID, stage string) {
	if p.set.bus != nil {
		p.set.bus.Publish(event.NewPipelineStageEvent(runID, stage))
	}
}
