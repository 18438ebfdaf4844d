// Package tui renders live pipeline progress in the terminal. It subscribes
// to the event bus and forwards events into a Bubbletea program, falling back
// to plain line output when stdout is not a terminal.
package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/report"
)

// App bridges the event bus to the progress UI. Bus events are translated to
// messages and forwarded with program.Send, so handlers never touch the
// render loop directly. The pipeline runs on its own goroutine and the app
// owns the terminal until the run finishes or the user quits.
type App struct {
	bus    *event.Bus
	cancel context.CancelFunc
	out    io.Writer

	program  *tea.Program
	subs     []string
	quitCh   chan struct{}
	quitOnce sync.Once
}

// New creates an app reading from bus and writing to stdout. cancel aborts
// the pipeline run when the user quits or the process is told to stop.
func New(bus *event.Bus, cancel context.CancelFunc) *App {
	return &App{
		bus:    bus,
		cancel: cancel,
		out:    os.Stdout,
		quitCh: make(chan struct{}),
	}
}

// Quit stops the UI without waiting for a done event. The pipeline goroutine
// calls it when a run errors out before reaching the report stage.
func (a *App) Quit() {
	a.quitOnce.Do(func() { close(a.quitCh) })
}

// Run blocks until the run's done event arrives, the user quits, Quit is
// called, or ctx is cancelled. When the output is not an interactive
// terminal it degrades to plain line output instead of taking over the
// screen.
func (a *App) Run(ctx context.Context) error {
	if !a.interactive() {
		return a.runPlain(ctx)
	}

	a.program = tea.NewProgram(
		NewModel(a.cancel),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	a.subs = append(a.subs, a.bus.SubscribeAll(func(ev event.Event) {
		if msg := eventToMsg(ev); msg != nil {
			a.program.Send(msg)
		}
	}))
	defer a.unsubscribe()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-a.quitCh:
			a.program.Quit()
		case <-stop:
		}
	}()

	_, err := a.program.Run()
	if err == tea.ErrProgramKilled {
		// Context cancellation is the normal abort path, not a UI failure.
		return nil
	}
	return err
}

// runPlain prints one line per event until the run's done event arrives.
func (a *App) runPlain(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once

	a.subs = append(a.subs, a.bus.SubscribeAll(func(ev event.Event) {
		switch msg := eventToMsg(ev).(type) {
		case sessionMsg:
			fmt.Fprintf(a.out, "session %s\n", msg.id)
		case stageMsg:
			fmt.Fprintf(a.out, "stage %s\n", msg.stage)
		case decomposedMsg:
			fmt.Fprintf(a.out, "backlog decomposed  %d leaves  (%s)\n", msg.leaves, msg.source)
		case statusMsg:
			line := fmt.Sprintf("  %s %s", msg.itemID, msg.status)
			if msg.reason != "" {
				line += "  " + msg.reason
			}
			fmt.Fprintln(a.out, line)
		case failedMsg:
			fmt.Fprintf(a.out, "  %s  %s  %s\n", msg.itemID, msg.code, msg.message)
		case committedMsg:
			fmt.Fprintf(a.out, "  %s committed (%s)\n", msg.itemID, shortHash(msg.hash))
		case doneMsg:
			fmt.Fprintf(a.out, "outcome %s  %d completed  %d failed  %d blocked\n",
				msg.outcome, msg.completed, msg.failed, msg.blocked)
			once.Do(func() { close(done) })
		}
	}))
	defer a.unsubscribe()

	select {
	case <-done:
		return nil
	case <-a.quitCh:
		return nil
	case <-ctx.Done():
		// The pipeline goroutine reports its own error; an interrupted wait
		// is not one.
		return nil
	}
}

func (a *App) interactive() bool {
	f, ok := a.out.(*os.File)
	return ok && report.IsTerminal(f)
}

func (a *App) unsubscribe() {
	for _, id := range a.subs {
		a.bus.Unsubscribe(id)
	}
	a.subs = nil
}

// eventToMsg translates a bus event into a UI message. Events the UI does
// not display, including status transitions above the subtask level, map to
// nil.
func eventToMsg(ev event.Event) tea.Msg {
	switch e := ev.(type) {
	case event.SessionCreatedEvent:
		return sessionMsg{id: e.SessionID}
	case event.SessionLoadedEvent:
		return sessionMsg{id: e.SessionID}
	case event.BacklogDecomposedEvent:
		return decomposedMsg{leaves: e.Leaves, source: e.Source}
	case event.ItemStatusEvent:
		if e.Level != string(backlog.LevelSubtask) {
			return nil
		}
		return statusMsg{itemID: e.ItemID, status: e.New, reason: e.Reason}
	case event.ItemFailedEvent:
		return failedMsg{itemID: e.ItemID, code: e.Code, message: e.Message}
	case event.ItemCommittedEvent:
		return committedMsg{itemID: e.ItemID, hash: e.CommitHash}
	case event.PipelineStageEvent:
		return stageMsg{stage: e.Stage}
	case event.PipelineDoneEvent:
		return doneMsg{
			outcome:   e.Outcome,
			completed: e.Completed,
			failed:    e.Failed,
			blocked:   e.Blocked,
		}
	}
	return nil
}
