package tui

import (
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/prdflow/prdflow/internal/pipeline"
)

// apply runs msgs through Update and returns the resulting model.
func apply(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func assertContains(t *testing.T, view string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestNewModelView(t *testing.T) {
	v := NewModel(nil).View()

	assertContains(t, v, "prdflow", "starting", "q to abort")
}

func TestUpdateTracksSubtaskProgress(t *testing.T) {
	m := apply(t, NewModel(nil),
		sessionMsg{id: "001_abcdef123456"},
		stageMsg{stage: "orchestrate"},
		decomposedMsg{leaves: 2, source: "agent"},
		statusMsg{itemID: "P1.M1.T1.S1", status: "researching"},
	)

	v := m.View()
	assertContains(t, v, "session 001_abcdef123456", "orchestrate", "●", "P1.M1.T1.S1", "0/2 done")

	m = apply(t, m,
		statusMsg{itemID: "P1.M1.T1.S1", status: "implementing"},
		committedMsg{itemID: "P1.M1.T1.S1", hash: "abcdef1234567890"},
		statusMsg{itemID: "P1.M1.T1.S1", status: "complete"},
	)

	v = m.View()
	assertContains(t, v, "✓", "(abcdef1)", "1/2 done")
}

func TestUpdateRecordsFailure(t *testing.T) {
	m := apply(t, NewModel(nil),
		statusMsg{itemID: "P1.M1.T1.S2", status: "researching"},
		statusMsg{itemID: "P1.M1.T1.S2", status: "failed"},
		failedMsg{itemID: "P1.M1.T1.S2", code: "AGENT_FAILED", message: "runtime reported failure"},
	)

	assertContains(t, m.View(), "✗", "AGENT_FAILED", "1 failed")
}

func TestUpdateKeepsSchedulingOrder(t *testing.T) {
	m := apply(t, NewModel(nil),
		statusMsg{itemID: "P1.M1.T2.S1", status: "researching"},
		statusMsg{itemID: "P1.M1.T1.S1", status: "researching"},
	)

	v := m.View()
	first := strings.Index(v, "P1.M1.T2.S1")
	second := strings.Index(v, "P1.M1.T1.S1")
	if first < 0 || second < 0 {
		t.Fatalf("view missing item lines:\n%s", v)
	}
	if first > second {
		t.Errorf("items out of scheduling order:\n%s", v)
	}
}

func TestBlockReasonClearedOnUnblock(t *testing.T) {
	m := apply(t, NewModel(nil),
		statusMsg{itemID: "P1.M1.T1.S2", status: "blocked", reason: "waiting on P1.M1.T1.S1"},
	)
	assertContains(t, m.View(), "!", "waiting on P1.M1.T1.S1")

	m = apply(t, m, statusMsg{itemID: "P1.M1.T1.S2", status: "researching"})
	if v := m.View(); strings.Contains(v, "waiting on") {
		t.Errorf("stale block reason survived unblock:\n%s", v)
	}
}

func TestDoneQuits(t *testing.T) {
	m := apply(t, NewModel(nil),
		statusMsg{itemID: "P1.M1.T1.S1", status: "complete"},
		statusMsg{itemID: "P1.M1.T1.S2", status: "failed"},
	)

	next, cmd := m.Update(doneMsg{outcome: "complete_with_failures", completed: 1, failed: 1})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("done should produce a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("done command = %T, want tea.QuitMsg", cmd())
	}

	v := m.View()
	assertContains(t, v, "complete_with_failures", "1 completed", "1 failed", "0 blocked")
	if strings.Contains(v, "q to abort") {
		t.Errorf("finished view still shows the abort hint:\n%s", v)
	}
}

func TestQuitKeySequence(t *testing.T) {
	cancelled := false
	m := NewModel(func() { cancelled = true })

	key := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	next, cmd := m.Update(key)
	m = next.(Model)
	if !cancelled {
		t.Error("first quit key should cancel the run")
	}
	if cmd != nil {
		t.Error("first quit key should wait for the run to wind down")
	}
	assertContains(t, m.View(), "aborting...")

	_, cmd = m.Update(key)
	if cmd == nil {
		t.Fatal("second quit key should force-quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("second quit command = %T, want tea.QuitMsg", cmd())
	}
}

func TestInterruptCancelsAndQuits(t *testing.T) {
	cancelled := false
	m := NewModel(func() { cancelled = true })

	_, cmd := m.Update(tea.InterruptMsg{})
	if !cancelled {
		t.Error("interrupt should cancel the run")
	}
	if cmd == nil {
		t.Fatal("interrupt should quit the UI")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("interrupt command = %T, want tea.QuitMsg", cmd())
	}
}

func TestViewClampsToWindowHeight(t *testing.T) {
	m := apply(t, NewModel(nil), tea.WindowSizeMsg{Width: 80, Height: 9})
	for i := 1; i <= 10; i++ {
		m = apply(t, m, statusMsg{itemID: fmt.Sprintf("P1.M1.T1.S%02d", i), status: "complete"})
	}

	v := m.View()
	assertContains(t, v, "P1.M1.T1.S08", "P1.M1.T1.S10")
	if strings.Contains(v, "P1.M1.T1.S07") {
		t.Errorf("clamped view should drop the oldest lines:\n%s", v)
	}
}

func TestViewTruncatesToWindowWidth(t *testing.T) {
	m := apply(t, NewModel(nil),
		tea.WindowSizeMsg{Width: 24, Height: 40},
		statusMsg{
			itemID: "P1.M1.T1.S1",
			status: "blocked",
			reason: "waiting on a very long upstream dependency chain",
		},
	)

	for _, line := range strings.Split(m.View(), "\n") {
		if got := lipgloss.Width(line); got > 24 {
			t.Errorf("line width = %d, want <= 24: %q", got, line)
		}
	}
}

func TestOutcomeGlyph(t *testing.T) {
	tests := []struct {
		outcome string
		want    string
	}{
		{pipeline.OutcomeComplete, "✓"},
		{pipeline.OutcomeQASkipped, "✓"},
		{pipeline.OutcomeCompleteWithFailures, "!"},
		{pipeline.OutcomeAborted, "✗"},
		{pipeline.OutcomeDryRun, "○"},
	}

	for _, tt := range tests {
		if got, _ := outcomeGlyph(tt.outcome); got != tt.want {
			t.Errorf("outcomeGlyph(%q) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
