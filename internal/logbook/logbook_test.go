package logbook

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "logs", "journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	if lines, total := book.Tail(10); lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v (%d)", lines, total)
	}
}

func TestOnEventJournalsOutcomes(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.OnEvent(scheduler.Event{Kind: scheduler.EventStarted, Node: "foo"})
	book.OnEvent(scheduler.Event{Kind: scheduler.EventCompleted, Node: "foo", URL: "svn://example.com/foo", Duration: 1500 * time.Millisecond})
	book.OnEvent(scheduler.Event{Kind: scheduler.EventFailed, Node: "bar", Err: errors.New("boom")})
	book.OnEvent(scheduler.Event{Kind: scheduler.EventBlocked, Node: "bar/empty", BlockedBy: []string{"bar"}})

	lines, total := book.Tail(10)
	if total != 3 {
		t.Fatalf("expected 3 journal lines, got %d: %v", total, lines)
	}
	checks := []struct{ level, text string }{
		{"INFO", "foo synced svn://example.com/foo in 1.5s"},
		{"ERROR", "bar failed: boom"},
		{"WARN", "bar/empty blocked by bar"},
	}
	for i, check := range checks {
		if !strings.Contains(lines[i], check.level) || !strings.Contains(lines[i], check.text) {
			t.Fatalf("line %d = %q, want %s %q", i, lines[i], check.level, check.text)
		}
	}
}

func TestLastRunStartsAtMostRecentHeader(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	book, err := New(filepath.Join(t.TempDir(), "journal.log"), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	if run := book.LastRun(); run != nil {
		t.Fatalf("expected no runs, got %v", run)
	}
	book.BeginRun("sync", 8)
	book.Info("foo synced svn://example.com/foo in 1s")
	book.EndRun("sync", "error", errors.New("1 dependency failed"))
	book.BeginRun("status", 2)
	book.EndRun("status", "complete", nil)

	run := book.LastRun()
	if len(run) != 2 {
		t.Fatalf("expected the status run only, got %v", run)
	}
	if run[0].Level != LevelRun || run[0].Message != "status started with 2 jobs" || !run[0].At.Equal(fixed) {
		t.Fatalf("unexpected header %+v", run[0])
	}
	if run[1].Message != "status finished: complete" {
		t.Fatalf("unexpected footer %+v", run[1])
	}

	lines, _ := book.Tail(5)
	if !strings.HasSuffix(lines[2], "sync finished: error (1 dependency failed)") {
		t.Fatalf("failed run footer should carry the error, got %q", lines[2])
	}
}

func TestParseEntryRoundTripsStoredLines(t *testing.T) {
	entry := Entry{At: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), Level: LevelWarn, Message: "bar/empty blocked by bar"}
	parsed, ok := ParseEntry(entry.String())
	if !ok || !parsed.At.Equal(entry.At) || parsed.Level != entry.Level || parsed.Message != entry.Message {
		t.Fatalf("parsed %+v (ok=%v), want %+v", parsed, ok, entry)
	}
	if _, ok := ParseEntry("not a journal line"); ok {
		t.Fatalf("foreign lines should not parse")
	}
}
