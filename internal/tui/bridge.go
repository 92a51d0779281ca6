package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/gsync/internal/workflow/engine"
	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

// Sender is the part of tea.Program the bridge needs.
type Sender interface {
	Send(tea.Msg)
}

// Bridge forwards scheduler events into a running program.
type Bridge struct {
	sender Sender
}

// NewBridge wraps sender as a scheduler observer.
func NewBridge(sender Sender) *Bridge {
	return &Bridge{sender: sender}
}

// OnEvent implements scheduler.Observer.
func (b *Bridge) OnEvent(ev scheduler.Event) {
	if b == nil || b.sender == nil {
		return
	}
	b.sender.Send(EventMsg(ev))
}

// RunFunc performs the sync, reporting progress to the observer.
type RunFunc func(ctx context.Context, obs scheduler.Observer) (engine.State, error)

// Run drives model while run executes on its own goroutine. Quitting the
// program cancels the context passed to run; Run always waits for run to
// return.
func Run(ctx context.Context, model Model, run RunFunc, opts ...tea.ProgramOption) (engine.State, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(model, opts...)
	type result struct {
		state engine.State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := run(ctx, NewBridge(program))
		done <- result{state: state, err: err}
		program.Send(FinishedMsg{State: state, Err: err})
	}()

	_, progErr := program.Run()
	cancel()
	res := <-done
	if progErr != nil {
		return res.state, fmt.Errorf("tui: %w", progErr)
	}
	return res.state, res.err
}

var _ scheduler.Observer = (*Bridge)(nil)
