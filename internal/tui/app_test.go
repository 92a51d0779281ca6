package tui

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/gsync/internal/logbook"
	"github.com/kingrea/gsync/internal/workflow/engine"
	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

func TestModelTracksProgress(t *testing.T) {
	m := NewModel("sync")
	m = feed(t, m,
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "foo", URL: "svn://example.com/foo"},
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "bar", URL: "svn://example.com/bar"},
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "foo/dir5"},
		scheduler.Event{Kind: scheduler.EventSkipped, Node: "foo/dir5"},
		scheduler.Event{Kind: scheduler.EventStarted, Node: "foo"},
		scheduler.Event{Kind: scheduler.EventStarted, Node: "bar"},
		scheduler.Event{Kind: scheduler.EventCompleted, Node: "foo", Duration: 1200 * time.Millisecond},
	)
	done, total := m.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 2, total)

	view := m.View()
	assert.Contains(t, view, "GSYNC · sync")
	assert.Contains(t, view, "1/2")
	assert.Contains(t, view, "1.2s")
	assert.Contains(t, view, "q to cancel")
}

func TestModelShowsFailuresAndBlockedRows(t *testing.T) {
	m := NewModel("sync")
	m = feed(t, m,
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "bar"},
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "bar/empty"},
		scheduler.Event{Kind: scheduler.EventStarted, Node: "bar"},
		scheduler.Event{Kind: scheduler.EventFailed, Node: "bar", Err: errors.New("checkout exploded")},
		scheduler.Event{Kind: scheduler.EventBlocked, Node: "bar/empty", BlockedBy: []string{"bar"}},
	)
	done, total := m.Progress()
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)
	view := m.View()
	assert.Contains(t, view, "checkout exploded")
	assert.Contains(t, view, "blocked by bar")
}

func TestModelTruncatesRows(t *testing.T) {
	m := NewModel("status", WithVisibleRows(2))
	m = feed(t, m,
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "a"},
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "b"},
		scheduler.Event{Kind: scheduler.EventDiscovered, Node: "c"},
		scheduler.Event{Kind: scheduler.EventStarted, Node: "c"},
	)
	view := m.View()
	assert.Contains(t, view, "1 more")
	assert.Less(t, strings.Index(view, " c "), strings.Index(view, " a "), "running rows are drawn first")
	assert.NotContains(t, view, " b ")
}

func TestModelQuitsWhenFinished(t *testing.T) {
	m := NewModel("sync")
	model, cmd := m.Update(FinishedMsg{State: engine.State{Status: engine.EngineStatusComplete}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, model.View(), "complete")
}

func TestModelRendersJournal(t *testing.T) {
	book, err := logbook.New(filepath.Join(t.TempDir(), "journal.log"))
	require.NoError(t, err)
	book.Info("foo synced")
	m := NewModel("sync", WithJournal(book))
	view := m.View()
	assert.Contains(t, view, "journal.log (1 entries)")
	assert.Contains(t, view, "foo synced")
}

func TestBridgeForwardsEvents(t *testing.T) {
	sender := &recordingSender{}
	bridge := NewBridge(sender)
	bridge.OnEvent(scheduler.Event{Kind: scheduler.EventStarted, Node: "foo"})
	require.Len(t, sender.msgs, 1)
	msg, ok := sender.msgs[0].(EventMsg)
	require.True(t, ok)
	assert.Equal(t, "foo", msg.Node)

	var nilBridge *Bridge
	nilBridge.OnEvent(scheduler.Event{Kind: scheduler.EventStarted})
}

func TestRunReturnsEngineResult(t *testing.T) {
	var in, out bytes.Buffer
	want := errors.New("scheduler: 1 dependency failed")
	state, err := Run(context.Background(), NewModel("sync"), func(ctx context.Context, obs scheduler.Observer) (engine.State, error) {
		obs.OnEvent(scheduler.Event{Kind: scheduler.EventDiscovered, Node: "foo"})
		obs.OnEvent(scheduler.Event{Kind: scheduler.EventFailed, Node: "foo", Err: want})
		return engine.State{RunID: "run-1", Status: engine.EngineStatusError}, want
	}, tea.WithInput(&in), tea.WithOutput(&out))

	assert.ErrorIs(t, err, want)
	assert.Equal(t, "run-1", state.RunID)
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *recordingSender) Send(msg tea.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func feed(t *testing.T, m Model, events ...scheduler.Event) Model {
	t.Helper()
	var model tea.Model = m
	for _, ev := range events {
		model, _ = model.Update(EventMsg(ev))
	}
	out, ok := model.(Model)
	require.True(t, ok)
	return out
}
