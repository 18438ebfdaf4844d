package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/pipeline"
	"github.com/prdflow/prdflow/internal/util"
)

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

// itemState is the per-subtask display state accumulated from bus events.
type itemState struct {
	status backlog.Status
	note   string // short commit hash, failure code, or block reason
}

// Model renders live pipeline progress: the current stage, one line per
// subtask in scheduling order, and the terminal outcome once the run ends.
// All state arrives as messages forwarded from the event bus, so the model
// never reads pipeline internals directly.
type Model struct {
	spinner spinner.Model
	cancel  context.CancelFunc

	width  int
	height int

	sessionID string
	stage     string
	leaves    int

	order []string
	items map[string]itemState

	done      bool
	outcome   string
	completed int
	failed    int
	blocked   int

	quitting bool
}

// NewModel creates a progress model. cancel aborts the pipeline run when the
// user quits; pass nil to make quit keys exit the UI only.
func NewModel(cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = activeStyle

	return Model{
		spinner: s,
		cancel:  cancel,
		items:   make(map[string]itemState),
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and returns the updated model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// First press cancels the run and waits for it to wind down;
			// a second press force-quits the UI.
			if m.quitting {
				return m, tea.Quit
			}
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}

	case tea.InterruptMsg:
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionMsg:
		m.sessionID = msg.id

	case stageMsg:
		m.stage = msg.stage

	case decomposedMsg:
		m.leaves = msg.leaves

	case statusMsg:
		m = m.ensure(msg.itemID)
		st := m.items[msg.itemID]
		st.status = backlog.Status(msg.status)
		switch st.status {
		case backlog.StatusBlocked:
			if msg.reason != "" {
				st.note = msg.reason
			}
		case backlog.StatusResearching, backlog.StatusImplementing:
			// Stale block reasons do not survive an unblock.
			st.note = ""
		}
		m.items[msg.itemID] = st

	case failedMsg:
		m = m.ensure(msg.itemID)
		st := m.items[msg.itemID]
		st.note = msg.code
		m.items[msg.itemID] = st

	case committedMsg:
		m = m.ensure(msg.itemID)
		st := m.items[msg.itemID]
		st.note = fmt.Sprintf("(%s)", shortHash(msg.hash))
		m.items[msg.itemID] = st

	case doneMsg:
		m.done = true
		m.outcome = msg.outcome
		m.completed = msg.completed
		m.failed = msg.failed
		m.blocked = msg.blocked
		return m, tea.Quit
	}

	return m, nil
}

// View renders the progress screen.
func (m Model) View() string {
	title := "prdflow"
	if m.sessionID != "" {
		title = fmt.Sprintf("prdflow  session %s", m.sessionID)
	}
	lines := []string{headerStyle.Render(title), "", m.statusLine()}

	items := m.itemLines()
	// Keep the newest activity visible when the list outgrows the window.
	if budget := m.height - 6; m.height > 0 && budget > 0 && len(items) > budget {
		items = items[len(items)-budget:]
	}
	lines = append(lines, items...)

	if !m.done {
		hint := "q to abort"
		if m.quitting {
			hint = "aborting..."
		}
		lines = append(lines, "", mutedStyle.Render(hint))
	}

	if m.width > 0 {
		for i := range lines {
			lines[i] = util.TruncateANSI(lines[i], m.width)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// ensure registers an item id the first time it appears so display order
// matches scheduling order.
func (m Model) ensure(id string) Model {
	if _, ok := m.items[id]; !ok {
		m.order = append(m.order, id)
		m.items[id] = itemState{status: backlog.StatusPlanned}
	}
	return m
}

func (m Model) statusLine() string {
	if m.done {
		glyph, style := outcomeGlyph(m.outcome)
		return fmt.Sprintf("%s %s  %d completed  %d failed  %d blocked",
			style.Render(glyph), style.Render(m.outcome), m.completed, m.failed, m.blocked)
	}

	stage := m.stage
	if stage == "" {
		stage = "starting"
	}
	line := fmt.Sprintf("%s %s", m.spinner.View(), stage)

	completed, failed, blocked := m.tally()
	switch {
	case m.leaves > 0:
		line += fmt.Sprintf("  %d/%d done", completed, m.leaves)
	case completed > 0:
		line += fmt.Sprintf("  %d done", completed)
	}
	if failed > 0 {
		line += "  " + failedStyle.Render(fmt.Sprintf("%d failed", failed))
	}
	if blocked > 0 {
		line += "  " + blockedStyle.Render(fmt.Sprintf("%d blocked", blocked))
	}
	return line
}

func (m Model) itemLines() []string {
	lines := make([]string, 0, len(m.order))
	for _, id := range m.order {
		st := m.items[id]
		glyph, style := statusGlyph(st.status)
		line := fmt.Sprintf("  %s %s", style.Render(glyph), id)
		if st.note != "" {
			noteStyle := mutedStyle
			if st.status == backlog.StatusFailed {
				noteStyle = failedStyle
			}
			line += "  " + noteStyle.Render(st.note)
		}
		lines = append(lines, line)
	}
	return lines
}

func (m Model) tally() (completed, failed, blocked int) {
	for _, st := range m.items {
		switch st.status {
		case backlog.StatusComplete:
			completed++
		case backlog.StatusFailed:
			failed++
		case backlog.StatusBlocked:
			blocked++
		}
	}
	return completed, failed, blocked
}

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

func outcomeGlyph(outcome string) (string, lipgloss.Style) {
	switch outcome {
	case pipeline.OutcomeComplete:
		return "✓", completeStyle
	case pipeline.OutcomeQASkipped:
		return "✓", mutedStyle
	case pipeline.OutcomeCompleteWithFailures:
		return "!", blockedStyle
	case pipeline.OutcomeAborted:
		return "✗", failedStyle
	default:
		return "○", mutedStyle
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
