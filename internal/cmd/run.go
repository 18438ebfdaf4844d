package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/config"
	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/git"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/pipeline"
	"github.com/prdflow/prdflow/internal/prd"
	"github.com/prdflow/prdflow/internal/qa"
	"github.com/prdflow/prdflow/internal/report"
	"github.com/prdflow/prdflow/internal/session"
	"github.com/prdflow/prdflow/internal/tui"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for a PRD",
	Long: `Run the full pipeline for a PRD: resolve or create its session,
decompose the document into a backlog, execute every subtask through
the agent, commit completed work, and review the run.

Re-running against an unchanged PRD resumes the existing session;
subtasks that already completed are not executed again.`,
	RunE: runRun,
}

var (
	runPRD             string
	runBacklog         string
	runContinueOnError bool
	runParallel        int
	runParentSession   string
	runDelta           bool
	runNoQA            bool
	runUseTUI          bool
	runDryRun          bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPRD, "prd", "", "path to the PRD file (required)")
	runCmd.Flags().StringVar(&runBacklog, "backlog", "", "decompose from a prepared backlog JSON file instead of the agent")
	runCmd.Flags().BoolVar(&runContinueOnError, "continue-on-error", false, "attempt every subtask even after fatal failures")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "maximum subtasks to execute concurrently")
	runCmd.Flags().StringVar(&runParentSession, "parent-session", "", "link the new session to an explicit predecessor by id")
	runCmd.Flags().BoolVar(&runDelta, "delta", false, "link the new session to the latest session under the plan root")
	runCmd.Flags().BoolVar(&runNoQA, "no-qa", false, "skip the QA review stage")
	runCmd.Flags().BoolVar(&runUseTUI, "tui", false, "show live progress in a full-screen view")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "stop after decomposition and render the backlog without executing")
	_ = runCmd.MarkFlagRequired("prd")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runParentSession != "" && runDelta {
		return fmt.Errorf("--parent-session and --delta are mutually exclusive")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("continue-on-error") {
		cfg.ContinueOnError = runContinueOnError
	}
	if cmd.Flags().Changed("parallel") {
		cfg.MaxParallel = runParallel
	}

	logger, err := logging.New(cfg.Logging.Options())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	runtime, err := agent.NewCLIRuntime(cfg.Agent.Options(), logger)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	manager := session.NewManager(logger, bus, prd.NewStructureValidator())

	styled := report.IsTerminal(os.Stdout)
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithBus(bus),
		pipeline.WithGit(gitClient(cfg, logger)),
		pipeline.WithRetry(cfg.Retry.Policy()),
		pipeline.WithContinueOnError(cfg.ContinueOnError),
		pipeline.WithMaxParallel(cfg.MaxParallel),
		pipeline.WithSessionOptions(session.Options{
			ParentSession:   runParentSession,
			DeltaFromLatest: runDelta,
		}),
		pipeline.WithStyled(styled),
	}
	// Without an explicit log directory, each run logs into its session.
	if cfg.Logging.Dir == "" {
		opts = append(opts, pipeline.WithSessionLog(cfg.Logging.Options()))
	}
	if runBacklog != "" {
		opts = append(opts, pipeline.WithDecomposer(pipeline.FileDecomposer{Path: runBacklog}))
	}
	if runNoQA {
		opts = append(opts, pipeline.WithReviewer(qa.Disabled()))
	}
	if runDryRun {
		opts = append(opts, pipeline.WithDryRun(true))
	}

	// A dry run stops before anything executes, so the live view would
	// have nothing to show.
	useTUI := runUseTUI && !runDryRun
	if useTUI {
		opts = append(opts, pipeline.WithOutput(io.Discard))
	}

	p, err := pipeline.New(pipeline.Config{
		Sessions: manager,
		Runtime:  runtime,
		PRDPath:  runPRD,
		PlanRoot: cfg.PlanRoot,
	}, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !useTUI {
		_, err := p.Run(ctx)
		return err
	}
	return runWithTUI(ctx, p, bus, manager, cfg.PlanRoot, styled)
}

// runWithTUI drives the pipeline under the live progress view. The run gets
// its own child context so that quitting the view aborts the run while the
// view stays up to show the aborted outcome.
func runWithTUI(ctx context.Context, p *pipeline.Pipeline, bus *event.Bus, manager *session.Manager, planRoot string, styled bool) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	app := tui.New(bus, cancelRun)

	var (
		rep    *report.Report
		runErr error
	)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		rep, runErr = p.Run(runCtx)
		// A run that fails before publishing its done event would
		// otherwise leave the view up forever.
		app.Quit()
	}()

	uiErr := app.Run(ctx)
	cancelRun()
	<-runDone

	// The alt screen erased the live view on exit; print the summary the
	// plain path would have shown.
	if rep != nil {
		if sess, err := manager.Load(planRoot, rep.SessionID); err == nil {
			rep.Render(os.Stdout, sess.Registry, styled)
		} else {
			rep.Render(os.Stdout, nil, styled)
		}
	}
	if runErr != nil {
		return runErr
	}
	return uiErr
}

// gitClient returns the commit client for the working directory, or the
// no-op client when committing is disabled or there is no repository.
func gitClient(cfg *config.Config, logger *logging.Logger) git.Client {
	if !cfg.Git.Enabled {
		return git.NopClient{}
	}
	cwd, err := os.Getwd()
	if err != nil || !git.IsRepo(cwd) {
		logger.Warn("commits disabled: working directory is not a git repository")
		return git.NopClient{}
	}
	return git.NewCLIClient(cwd, logger).WithCommitPrefix(cfg.Git.CommitPrefix)
}
