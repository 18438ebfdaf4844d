package pipeline

import (
	"io"
	"os"

	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/git"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/orchestrator"
	"github.com/prdflow/prdflow/internal/qa"
	"github.com/prdflow/prdflow/internal/retry"
	"github.com/prdflow/prdflow/internal/session"
)

// settings holds the optional collaborators and knobs of a Pipeline.
type settings struct {
	logger          *logging.Logger
	sessionLog      *logging.Options
	bus             *event.Bus
	git             git.Client
	decomposer      Decomposer
	reviewer        qa.Reviewer
	hooks           []orchestrator.Instrumented
	sessionOpts     session.Options
	retryPolicy     retry.Policy
	continueOnError bool
	maxParallel     int
	dryRun          bool
	out             io.Writer
	styled          bool
}

func defaultSettings() settings {
	return settings{
		logger: logging.NopLogger(),
		git:    git.NopClient{},
		out:    os.Stdout,
	}
}

// Option configures a Pipeline.
type Option func(*settings)

// WithLogger sets the structured logger shared by every stage.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionLog makes each run log to pipeline.log inside its session
// directory, using the given level, format, and rotation settings. The
// directory in opts is ignored; it is the resolved session's.
func WithSessionLog(opts logging.Options) Option {
	return func(s *settings) { s.sessionLog = &opts }
}

// WithBus sets the event bus stage and item events are published on.
func WithBus(b *event.Bus) Option {
	return func(s *settings) { s.bus = b }
}

// WithGit sets the git client used for per-subtask commits. The default
// NopClient disables committing.
func WithGit(c git.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.git = c
		}
	}
}

// WithDecomposer replaces the default agent-backed decomposer, e.g. with a
// FileDecomposer for a prepared backlog.
func WithDecomposer(d Decomposer) Option {
	return func(s *settings) { s.decomposer = d }
}

// WithReviewer replaces the default commit-audit reviewer. Use
// qa.Disabled() to turn the QA stage into a no-op.
func WithReviewer(r qa.Reviewer) Option {
	return func(s *settings) { s.reviewer = r }
}

// WithHooks registers orchestrator hooks invoked around each subtask.
func WithHooks(hooks ...orchestrator.Instrumented) Option {
	return func(s *settings) { s.hooks = append(s.hooks, hooks...) }
}

// WithSessionOptions forwards delta-session linking to session creation.
func WithSessionOptions(opts session.Options) Option {
	return func(s *settings) { s.sessionOpts = opts }
}

// WithRetry sets the backoff policy applied around the subtask runtime.
func WithRetry(p retry.Policy) Option {
	return func(s *settings) { s.retryPolicy = p }
}

// WithContinueOnError makes every failure non-fatal so the full backlog is
// attempted regardless of what breaks.
func WithContinueOnError(v bool) Option {
	return func(s *settings) { s.continueOnError = v }
}

// WithMaxParallel bounds concurrent subtask execution. Values below 2 keep
// the serial queue semantics.
func WithMaxParallel(n int) Option {
	return func(s *settings) { s.maxParallel = n }
}

// WithDryRun stops the run after decomposition: the backlog tree is
// rendered but nothing executes, commits, or is reviewed.
func WithDryRun(v bool) Option {
	return func(s *settings) { s.dryRun = v }
}

// WithOutput redirects the rendered report, e.g. to a buffer in tests.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.out = w
		}
	}
}

// WithStyled enables color in the rendered report.
func WithStyled(v bool) Option {
	return func(s *settings) { s.styled = v }
}
