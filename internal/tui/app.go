// internal/tui/app.go
//
// Live progress view for a sync run. It uses bubbletea, which follows The Elm
// Architecture:
//
// 1. Model: the rows discovered so far and their states
// 2. Update: scheduler events arrive as messages and move rows along
// 3. View: a progress bar, the active rows, and the tail of the run journal
//
// The engine runs on its own goroutine and feeds the program through Bridge.

package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/gsync/internal/logbook"
	"github.com/kingrea/gsync/internal/workflow/engine"
	"github.com/kingrea/gsync/internal/workflow/resolver"
	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

const defaultVisibleRows = 12

// EventMsg carries one scheduler event into the program.
type EventMsg scheduler.Event

// FinishedMsg reports the engine's final snapshot.
type FinishedMsg struct {
	State engine.State
	Err   error
}

type row struct {
	name      string
	url       string
	state     resolver.NodeState
	started   time.Time
	duration  time.Duration
	blockedBy []string
	err       string
}

// Model renders a running sync.
type Model struct {
	command string
	spinner spinner.Model
	bar     progress.Model
	journal *logbook.Logbook

	rows  []*row
	index map[string]*row

	visible  int
	width    int
	finished bool
	quitting bool
	status   engine.EngineStatus
	err      error
}

// Option customizes the model.
type Option func(*Model)

// WithJournal shows the tail of the run journal under the rows.
func WithJournal(book *logbook.Logbook) Option {
	return func(m *Model) {
		m.journal = book
	}
}

// WithVisibleRows bounds how many rows are drawn.
func WithVisibleRows(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.visible = n
		}
	}
}

// NewModel creates the progress model for command.
func NewModel(command string, opts ...Option) Model {
	m := Model{
		command: command,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(labelStyleRunning)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
		index:   map[string]*row{},
		visible: defaultVisibleRows,
		width:   80,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update applies one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-20))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case EventMsg:
		m.apply(scheduler.Event(msg))
	case FinishedMsg:
		m.finished = true
		m.status = msg.State.Status
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev scheduler.Event) {
	r, ok := m.index[ev.Node]
	if !ok {
		r = &row{name: ev.Node, state: resolver.NodeStatePending}
		m.index[ev.Node] = r
		m.rows = append(m.rows, r)
	}
	if ev.URL != "" {
		r.url = ev.URL
	}
	switch ev.Kind {
	case scheduler.EventSkipped:
		r.state = resolver.NodeStateSkipped
	case scheduler.EventStarted:
		r.state = resolver.NodeStateRunning
		r.started = ev.At
	case scheduler.EventCompleted:
		r.state = resolver.NodeStateComplete
		r.duration = ev.Duration
	case scheduler.EventFailed:
		r.state = resolver.NodeStateFailed
		r.duration = ev.Duration
		if ev.Err != nil {
			r.err = ev.Err.Error()
		}
	case scheduler.EventBlocked:
		r.state = resolver.NodeStateBlocked
		r.blockedBy = ev.BlockedBy
	case scheduler.EventCancelled:
		r.state = resolver.NodeStateCancelled
	}
}

// Progress returns finished and total processed rows.
func (m Model) Progress() (done, total int) {
	for _, r := range m.rows {
		if r.state == resolver.NodeStateSkipped {
			continue
		}
		total++
		if r.state.Terminal() {
			done++
		}
	}
	return done, total
}

// View renders the model.
func (m Model) View() string {
	done, total := m.Progress()
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total)
	}
	header := headerStyle.Render(fmt.Sprintf("⬡ GSYNC · %s", m.command))
	bar := fmt.Sprintf("%s %d/%d", m.bar.ViewAs(pct), done, total)

	sections := []string{header, bar, boxStyle.Width(max(20, m.width-2)).Render(m.renderRows())}
	if panel := m.renderJournal(); panel != "" {
		sections = append(sections, panel)
	}
	sections = append(sections, footerStyle.Render(m.footer()))
	return strings.Join(sections, "\n") + "\n"
}

func (m Model) renderRows() string {
	rows := m.orderedRows()
	if len(rows) == 0 {
		return detailTextStyle.Render("Resolving solutions...")
	}
	hidden := 0
	if len(rows) > m.visible {
		hidden = len(rows) - m.visible
		rows = rows[:m.visible]
	}
	lines := make([]string, 0, len(rows)+1)
	for _, r := range rows {
		lines = append(lines, m.renderRow(r))
	}
	if hidden > 0 {
		lines = append(lines, detailTextStyle.Render(fmt.Sprintf("… %d more", hidden)))
	}
	return strings.Join(lines, "\n")
}

// orderedRows puts running and failed rows first so they stay visible.
func (m Model) orderedRows() []*row {
	var active, rest []*row
	for _, r := range m.rows {
		switch r.state {
		case resolver.NodeStateRunning, resolver.NodeStateFailed:
			active = append(active, r)
		default:
			rest = append(rest, r)
		}
	}
	return append(active, rest...)
}

func (m Model) renderRow(r *row) string {
	label, style := stateLabel(r.state)
	if r.state == resolver.NodeStateRunning {
		label = m.spinner.View()
	} else {
		label = style.Render(label)
	}
	detail := r.url
	switch r.state {
	case resolver.NodeStateComplete:
		detail = r.duration.Round(time.Millisecond).String()
	case resolver.NodeStateFailed:
		detail = r.err
	case resolver.NodeStateBlocked:
		detail = "blocked by " + strings.Join(r.blockedBy, ", ")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, label, " ", r.name, "  ", detailTextStyle.Render(detail))
}

func stateLabel(state resolver.NodeState) (string, lipgloss.Style) {
	switch state {
	case resolver.NodeStateComplete:
		return "✓", labelStyleDone
	case resolver.NodeStateFailed:
		return "✗", labelStyleFailed
	case resolver.NodeStateBlocked, resolver.NodeStateCancelled:
		return "!", labelStyleBlocked
	case resolver.NodeStateSkipped:
		return "-", labelStyleSkipped
	default:
		return "·", labelStyleDefault
	}
}

func (m Model) renderJournal() string {
	if m.journal == nil {
		return ""
	}
	lines, total := m.journal.Tail(5)
	if len(lines) == 0 {
		return ""
	}
	head := labelStyleRunning.Render(fmt.Sprintf("LOG · %s (%d entries)", filepath.Base(m.journal.Path()), total))
	return boxStyle.Render(head + "\n" + detailTextStyle.Render(strings.Join(lines, "\n")))
}

func (m Model) footer() string {
	switch {
	case m.finished && m.err != nil:
		return fmt.Sprintf("%s: %v", m.status, m.err)
	case m.finished:
		return string(m.status)
	case m.quitting:
		return "cancelling..."
	default:
		return "q to cancel"
	}
}
