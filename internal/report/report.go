// Package report assembles the terminal summary and the report.json
// artifact for a finished pipeline run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/fsx"
	"github.com/prdflow/prdflow/internal/orchestrator"
	"github.com/prdflow/prdflow/internal/session"
)

// ArtifactName is the report's file name under the session artifacts dir.
const ArtifactName = "report.json"

// Totals are the leaf counts of a run.
type Totals struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Skipped   int `json:"skipped"`
}

// Report is the durable record of one pipeline run.
type Report struct {
	RunID       string                   `json:"run_id"`
	SessionID   string                   `json:"session_id"`
	SessionPath string                   `json:"session_path"`
	Outcome     string                   `json:"outcome"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`
	Totals      Totals                   `json:"totals"`
	Failures    []errors.Record          `json:"failures,omitempty"`
	Commits     []orchestrator.CommitRef `json:"commits,omitempty"`
	QANotes     []string                 `json:"qa_notes,omitempty"`
}

// New builds a report from a finished run.
func New(runID string, sess *session.Session, outcome string, out *orchestrator.Outcome, qaNotes []string, startedAt time.Time) *Report {
	r := &Report{
		RunID:       runID,
		SessionID:   sess.ID,
		SessionPath: sess.Path,
		Outcome:     outcome,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		QANotes:     qaNotes,
	}
	if out != nil {
		r.Totals = Totals{
			Completed: out.Completed,
			Failed:    out.Failed,
			Blocked:   out.Blocked,
			Skipped:   out.Skipped,
		}
		r.Failures = out.Failures
		r.Commits = out.Commits
	}
	return r
}

// Duration is the wall-clock span of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// WriteArtifact persists the report as JSON under the session's artifacts
// directory and returns the written path.
func (r *Report) WriteArtifact(sess *session.Session) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(sess.ArtifactsDir(), ArtifactName)
	if err := fsx.AtomicWrite(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report artifact: %w", err)
	}
	return path, nil
}

// IsTerminal reports whether f is an interactive terminal. Callers use it
// to decide whether Render should emit color.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var (
	completeColor = lipgloss.Color("#10B981") // Green
	failedColor   = lipgloss.Color("#F87171") // Red
	activeColor   = lipgloss.Color("#60A5FA") // Blue
	blockedColor  = lipgloss.Color("#F59E0B") // Amber
	mutedColor    = lipgloss.Color("#9CA3AF") // Gray

	headerStyle   = lipgloss.NewStyle().Bold(true)
	completeStyle = lipgloss.NewStyle().Foreground(completeColor)
	failedStyle   = lipgloss.NewStyle().Foreground(failedColor)
	activeStyle   = lipgloss.NewStyle().Foreground(activeColor)
	blockedStyle  = lipgloss.NewStyle().Foreground(blockedColor)
	mutedStyle    = lipgloss.NewStyle().Foreground(mutedColor)
)

func statusGlyph(s backlog.Status) (string, lipgloss.Style) {
	switch s {
	case backlog.StatusComplete:
		return "✓", completeStyle
	case backlog.StatusFailed:
		return "✗", failedStyle
	case backlog.StatusBlocked:
		return "!", blockedStyle
	case backlog.StatusResearching, backlog.StatusImplementing:
		return "●", activeStyle
	default:
		return "○", mutedStyle
	}
}

func levelDepth(l backlog.Level) int {
	switch l {
	case backlog.LevelPhase:
		return 0
	case backlog.LevelMilestone:
		return 1
	case backlog.LevelTask:
		return 2
	default:
		return 3
	}
}

func paint(s string, st lipgloss.Style, styled bool) string {
	if !styled {
		return s
	}
	return st.Render(s)
}

// Render writes the human-readable summary: a status tree of the registry,
// the failure table, and the QA notes. With styled false the output is
// plain text, suitable for pipes and logs.
func (r *Report) Render(w io.Writer, reg *backlog.Registry, styled bool) {
	fmt.Fprintf(w, "%s\n", paint(fmt.Sprintf("run %s", r.RunID), headerStyle, styled))
	fmt.Fprintf(w, "session %s  outcome %s  duration %s\n",
		r.SessionID, r.Outcome, r.Duration().Round(time.Second))
	fmt.Fprintf(w, "completed %d  failed %d  blocked %d  skipped %d\n",
		r.Totals.Completed, r.Totals.Failed, r.Totals.Blocked, r.Totals.Skipped)

	if reg != nil && len(reg.Backlog) > 0 {
		fmt.Fprintln(w)
		commits := make(map[string]string, len(r.Commits))
		for _, c := range r.Commits {
			commits[c.ItemID] = shortHash(c.Hash)
		}
		tree(w, reg, commits, styled)
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, paint("failures", headerStyle, styled))
		for _, f := range r.Failures {
			code := string(f.Code)
			if code == "" {
				code = string(f.Kind)
			}
			fmt.Fprintf(w, "  %s  %s  %s\n", f.ItemID, paint(code, failedStyle, styled), f.Message)
		}
	}

	if len(r.QANotes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, paint("qa", headerStyle, styled))
		for _, note := range r.QANotes {
			fmt.Fprintf(w, "  - %s\n", note)
		}
	}
}

// Tree writes the indented status tree of a registry, one line per item,
// without any run context. It renders a backlog that has no report yet,
// such as a session inspected between runs.
func Tree(w io.Writer, reg *backlog.Registry, styled bool) {
	tree(w, reg, nil, styled)
}

func tree(w io.Writer, reg *backlog.Registry, commits map[string]string, styled bool) {
	reg.Walk(func(it *backlog.Item, parent *backlog.Item) bool {
		glyph, style := statusGlyph(it.Status)
		line := fmt.Sprintf("%s%s %s  %s",
			strings.Repeat("  ", levelDepth(it.Level)),
			paint(glyph, style, styled),
			it.ID,
			it.Title,
		)
		if hash, ok := commits[it.ID]; ok {
			line += "  " + paint("("+hash+")", mutedStyle, styled)
		}
		fmt.Fprintln(w, line)
		return true
	})
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
