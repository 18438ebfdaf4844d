// Package orchestrator drains a session's backlog: it walks the leaf
// subtasks in declaration order, honors cross-item dependencies, drives each
// leaf through the status machine, and hands the actual work to the
// configured subtask runtime.
//
// Failures are classified, not thrown. A non-fatal failure marks the leaf
// failed, records it on the outcome, and lets the queue continue; a fatal
// failure or a cancelled context stops the run immediately. Every status
// transition is persisted before its event is published, so a run can be
// killed at any point and resumed from tasks.json.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/git"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/retry"
	"github.com/prdflow/prdflow/internal/session"
)

// Store persists the session's task registry. *session.Manager satisfies it.
type Store interface {
	SaveTasks(sess *session.Session) error
}

// CommitRef ties a commit hash to the subtask that produced it.
type CommitRef struct {
	ItemID string `json:"item_id"`
	Hash   string `json:"hash"`
}

// Outcome summarizes a run over the execution queue. Counts cover leaves
// only; ancestor roll-up status lives in the registry.
type Outcome struct {
	// Completed counts leaves that reached complete during this run.
	Completed int `json:"completed"`

	// Failed counts leaves that failed non-fatally during this run.
	Failed int `json:"failed"`

	// Blocked counts leaves still non-terminal when the run ended, either
	// because a dependency failed or because the run stopped early.
	Blocked int `json:"blocked"`

	// Skipped counts leaves that were already terminal when the run
	// started, e.g. on resume.
	Skipped int `json:"skipped"`

	// Failures holds one record per non-fatal failure, in occurrence
	// order.
	Failures []errors.Record `json:"failures,omitempty"`

	// Commits holds one entry per subtask commit, in occurrence order.
	Commits []CommitRef `json:"commits,omitempty"`
}

// Clean reports whether the run finished with nothing failed or left behind.
func (out *Outcome) Clean() bool {
	return out.Failed == 0 && out.Blocked == 0
}

// Options configures an Orchestrator.
type Options struct {
	// Runtime executes individual subtasks. Required.
	Runtime agent.Runtime

	// Git commits each subtask's changes. Defaults to git.NopClient,
	// which disables per-subtask commits.
	Git git.Client

	// Logger receives structured run logs. Defaults to a no-op logger.
	Logger *logging.Logger

	// Bus receives status, failure, and commit events. Optional.
	Bus *event.Bus

	// Hooks observe each subtask around its execution.
	Hooks []Instrumented

	// ContinueOnError downgrades every failure to non-fatal, so the queue
	// runs to the end no matter what breaks.
	ContinueOnError bool

	// MaxParallel bounds concurrent subtask execution. Values below 2
	// select the serial path.
	MaxParallel int

	// Retry shapes the backoff applied around the runtime. Retryable and
	// OnRetry are owned by the orchestrator and overwritten per subtask.
	Retry retry.Policy
}

// Orchestrator executes one session's backlog. Create with New; a single
// orchestrator drives a single session and is safe for one Run at a time.
type Orchestrator struct {
	sess  *session.Session
	store Store

	runtime agent.Runtime
	git     git.Client
	log     *logging.Logger
	bus     *event.Bus
	hooks   []Instrumented

	continueOnError bool
	maxParallel     int
	retry           retry.Policy

	// mu guards registry mutation, persistence, and the accumulators
	// below. commitMu serializes git operations across workers.
	mu       sync.Mutex
	commitMu sync.Mutex
	failures []errors.Record
	commits  []CommitRef
}

// New creates an orchestrator for the given session.
func New(sess *session.Session, store Store, opts Options) (*Orchestrator, error) {
	if sess == nil || sess.Registry == nil {
		return nil, fmt.Errorf("orchestrator requires a loaded session")
	}
	if store == nil {
		return nil, fmt.Errorf("orchestrator requires a task store")
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("orchestrator requires a subtask runtime")
	}
	if opts.Git == nil {
		opts.Git = git.NopClient{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &Orchestrator{
		sess:            sess,
		store:           store,
		runtime:         opts.Runtime,
		git:             opts.Git,
		log:             opts.Logger.WithSession(sess.ID),
		bus:             opts.Bus,
		hooks:           opts.Hooks,
		continueOnError: opts.ContinueOnError,
		maxParallel:     opts.MaxParallel,
		retry:           opts.Retry.ApplyDefaults(),
	}, nil
}

// Run drains the execution queue and returns the outcome. The queue is the
// registry's leaves in declaration order; a leaf runs once all of its
// dependencies are complete and is parked in blocked until then. Run returns
// a non-nil error only when the run stopped early: a fatal failure or a
// cancelled context. The outcome always reflects the work done so far.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	queue := o.sess.Registry.Leaves()
	index := o.buildIndex()

	skipped := make(map[string]bool, len(queue))
	for _, it := range queue {
		if it.Status.IsTerminal() {
			skipped[it.ID] = true
		}
	}

	o.log.Info("starting execution",
		"queue", len(queue),
		"pending", len(queue)-len(skipped),
		"max_parallel", o.maxParallel,
		"continue_on_error", o.continueOnError,
	)

	var runErr error
	if o.maxParallel > 1 {
		runErr = o.runParallel(ctx, queue, index)
	} else {
		runErr = o.runSerial(ctx, queue, index)
	}

	out := o.summarize(queue, skipped)
	if runErr != nil {
		o.log.Error("execution stopped early",
			"completed", out.Completed,
			"failed", out.Failed,
			"blocked", out.Blocked,
			"error", runErr.Error(),
		)
	} else {
		o.log.Info("execution finished",
			"completed", out.Completed,
			"failed", out.Failed,
			"blocked", out.Blocked,
			"skipped", out.Skipped,
		)
	}
	return out, runErr
}

// runSerial executes one leaf at a time. After each leaf the scan resumes
// just past it and wraps around, so leaves parked in blocked earlier are
// reconsidered once later completions unblock them.
func (o *Orchestrator) runSerial(ctx context.Context, queue []*backlog.Item, index map[string]*backlog.Item) error {
	start := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, err := o.nextActionable(queue, index, start)
		if err != nil {
			return err
		}
		if idx < 0 {
			return nil
		}
		if err := o.executeSubtask(ctx, queue[idx]); err != nil {
			return err
		}
		start = idx + 1
	}
}

// runParallel executes the queue in waves. Every leaf in a wave has all of
// its dependencies complete, so no wave member can depend on another; the
// wave runs concurrently under maxParallel and the next scan picks up
// whatever it unblocked.
func (o *Orchestrator) runParallel(ctx context.Context, queue []*backlog.Item, index map[string]*backlog.Item) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wave, err := o.actionableWave(queue, index)
		if err != nil {
			return err
		}
		if len(wave) == 0 {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.maxParallel)
		for _, it := range wave {
			g.Go(func() error {
				return o.executeSubtask(gctx, it)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// nextActionable scans from start, wrapping around, and returns the index of
// the first runnable leaf, or -1 when nothing can run anymore. Leaves whose
// dependencies are not yet complete are moved to blocked as the scan passes
// them. Scans only happen while no subtask is executing, so they read the
// registry without the lock.
func (o *Orchestrator) nextActionable(queue []*backlog.Item, index map[string]*backlog.Item, start int) (int, error) {
	n := len(queue)
	for k := 0; k < n; k++ {
		idx := (start + k) % n
		it := queue[idx]
		if it.Status.IsTerminal() {
			continue
		}
		if o.depsComplete(it, index) {
			return idx, nil
		}
		if it.Status != backlog.StatusBlocked {
			if err := o.setStatus(it, backlog.StatusBlocked, "waiting on dependencies"); err != nil {
				return -1, err
			}
		}
	}
	return -1, nil
}

// actionableWave collects every leaf that can run right now, parking the
// rest in blocked. Like nextActionable it runs between waves, with no
// workers in flight.
func (o *Orchestrator) actionableWave(queue []*backlog.Item, index map[string]*backlog.Item) ([]*backlog.Item, error) {
	var wave []*backlog.Item
	for _, it := range queue {
		if it.Status.IsTerminal() {
			continue
		}
		if o.depsComplete(it, index) {
			wave = append(wave, it)
			continue
		}
		if it.Status != backlog.StatusBlocked {
			if err := o.setStatus(it, backlog.StatusBlocked, "waiting on dependencies"); err != nil {
				return nil, err
			}
		}
	}
	return wave, nil
}

// depsComplete reports whether every dependency of the item is complete. An
// unknown dependency id counts as unmet; validation rejects those up front,
// so this only defends direct registry edits.
func (o *Orchestrator) depsComplete(it *backlog.Item, index map[string]*backlog.Item) bool {
	for _, dep := range it.DependsOn {
		d, ok := index[dep]
		if !ok || d.Status != backlog.StatusComplete {
			return false
		}
	}
	return true
}

// buildIndex maps item ids to items for dependency lookups.
func (o *Orchestrator) buildIndex() map[string]*backlog.Item {
	index := make(map[string]*backlog.Item, o.sess.Registry.Len())
	o.sess.Registry.Walk(func(it *backlog.Item, parent *backlog.Item) bool {
		index[it.ID] = it
		return true
	})
	return index
}

// summarize tallies the queue into an Outcome.
func (o *Orchestrator) summarize(queue []*backlog.Item, skipped map[string]bool) *Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := &Outcome{
		Failures: append([]errors.Record(nil), o.failures...),
		Commits:  append([]CommitRef(nil), o.commits...),
	}
	for _, it := range queue {
		switch {
		case skipped[it.ID]:
			out.Skipped++
		case it.Status == backlog.StatusComplete:
			out.Completed++
		case it.Status == backlog.StatusFailed:
			out.Failed++
		default:
			out.Blocked++
		}
	}
	return out
}

// statusOf reads an item's status under the registry lock. Workers use it
// when inspecting items other than the one they are executing.
func (o *Orchestrator) statusOf(it *backlog.Item) backlog.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return it.Status
}

func (o *Orchestrator) publish(ev event.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}
