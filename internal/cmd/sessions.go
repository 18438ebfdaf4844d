package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/config"
	"github.com/prdflow/prdflow/internal/report"
	"github.com/prdflow/prdflow/internal/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage pipeline sessions",
	Long:  `Commands for listing and inspecting sessions under the plan root.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Long: `List every session under the plan root with its status:
- Session ID, creation time, and parent
- Decomposition state and leaf progress
- Lock status (whether another process is running it)`,
	RunE: runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's backlog tree",
	Long: `Show a single session in detail: its metadata and the full status
tree of its backlog. The session may be named by full ID, by ID
prefix, or by content-hash prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsShow,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	infos, err := session.List(cfg.PlanRoot)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Repeat("─", 70))
	fmt.Fprintln(out, "Sessions")
	fmt.Fprintln(out, strings.Repeat("─", 70))

	if len(infos) == 0 {
		fmt.Fprintln(out, "\nNo sessions found.")
		fmt.Fprintln(out, "Run 'prdflow run --prd <file>' to create one.")
		return nil
	}

	fmt.Fprintf(out, "\nFound %d session(s):\n\n", len(infos))
	for _, info := range infos {
		fmt.Fprintf(out, "  Session: %s\n", info.ID)
		fmt.Fprintf(out, "    Created:  %s\n", info.CreatedAt.Format(time.RFC822))
		if info.ParentID != "" {
			fmt.Fprintf(out, "    Parent:   %s\n", info.ParentID)
		}
		if info.HasTasks {
			fmt.Fprintf(out, "    Leaves:   %d (%s)\n", info.Leaves, progressSummary(info))
		} else {
			fmt.Fprintf(out, "    Leaves:   not decomposed\n")
		}
		if info.IsLocked {
			fmt.Fprintf(out, "    Status:   LOCKED (PID %d)\n", info.LockInfo.PID)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, strings.Repeat("─", 70))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	infos, err := session.List(cfg.PlanRoot)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var target *session.Info
	for _, info := range infos {
		if info.ID == args[0] || strings.HasPrefix(info.ID, args[0]) || strings.HasPrefix(info.Hash, args[0]) {
			target = info
			break
		}
	}
	if target == nil {
		return fmt.Errorf("session not found: %s", args[0])
	}

	sess, err := session.NewManager(nil, nil, nil).Load(cfg.PlanRoot, target.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", sess.ID)
	fmt.Fprintf(out, "Path:    %s\n", sess.Path)
	fmt.Fprintf(out, "Created: %s\n", sess.CreatedAt.Format(time.RFC822))
	if sess.ParentID != "" {
		fmt.Fprintf(out, "Parent:  %s\n", sess.ParentID)
	}

	if sess.Registry == nil || sess.Registry.Len() == 0 {
		fmt.Fprintln(out, "\nNot decomposed yet.")
		return nil
	}

	fmt.Fprintln(out)
	report.Tree(out, sess.Registry, report.IsTerminal(os.Stdout))
	return nil
}

// progressSummary formats the nonzero leaf status counts of a session.
func progressSummary(info *session.Info) string {
	order := []backlog.Status{
		backlog.StatusComplete,
		backlog.StatusFailed,
		backlog.StatusBlocked,
		backlog.StatusResearching,
		backlog.StatusImplementing,
		backlog.StatusPlanned,
	}
	parts := make([]string, 0, len(order))
	for _, st := range order {
		if n := info.Counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		return "no leaves"
	}
	return strings.Join(parts, ", ")
}
