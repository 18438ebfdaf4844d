package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/config"
	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/pipeline"
	"github.com/prdflow/prdflow/internal/prd"
	"github.com/prdflow/prdflow/internal/report"
	"github.com/prdflow/prdflow/internal/session"
	"github.com/prdflow/prdflow/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the pipeline whenever the PRD changes",
	Long: `Watch a PRD file and run the pipeline on every change.

An initial run happens immediately. Each saved change then starts a
run linked to the previous session, so completed work carries forward
and only the delta executes. Edits made while a run is in flight are
picked up by the next run.`,
	RunE: runWatch,
}

var (
	watchPRD      string
	watchDebounce time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchPRD, "prd", "", "path to the PRD file (required)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "quiet period after the last change before a run starts")
	_ = watchCmd.MarkFlagRequired("prd")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	debounce := cfg.Watch.Debounce()
	if cmd.Flags().Changed("debounce") {
		debounce = watchDebounce
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
	client := gitClient(cfg, logger)
	styled := report.IsTerminal(os.Stdout)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithBus(bus),
		pipeline.WithGit(client),
		pipeline.WithRetry(cfg.Retry.Policy()),
		pipeline.WithContinueOnError(cfg.ContinueOnError),
		pipeline.WithMaxParallel(cfg.MaxParallel),
		pipeline.WithSessionOptions(session.Options{DeltaFromLatest: true}),
		pipeline.WithStyled(styled),
	}
	// Without an explicit log directory, each run logs into its session.
	if cfg.Logging.Dir == "" {
		opts = append(opts, pipeline.WithSessionLog(cfg.Logging.Options()))
	}

	runOnce := func(ctx context.Context) {
		p, err := pipeline.New(pipeline.Config{
			Sessions: manager,
			Runtime:  runtime,
			PRDPath:  watchPRD,
			PlanRoot: cfg.PlanRoot,
		}, opts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
			return
		}
		// A failed run must not stop the watch; the next save gets a
		// fresh attempt.
		if _, err := p.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "watch: run failed: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s (debounce %s). Press Ctrl+C to stop.\n", watchPRD, debounce)
	runOnce(ctx)

	w, err := watch.New(watch.Config{
		Path:     watchPRD,
		Debounce: debounce,
		OnChange: runOnce,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	<-ctx.Done()
	return nil
}
