package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a journal entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	// LevelRun marks the lines that open and close a run.
	LevelRun Level = "RUN"
)

// Entry is one journal line.
type Entry struct {
	At      time.Time
	Level   Level
	Message string
}

// String renders the entry the way it is stored.
func (e Entry) String() string {
	return fmt.Sprintf("%s %-5s %s", e.At.UTC().Format(time.RFC3339), string(e.Level), e.Message)
}

// ParseEntry reads a stored line back. Lines written by something else are
// reported as not ok.
func ParseEntry(line string) (Entry, bool) {
	stamp, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Entry{}, false
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return Entry{}, false
	}
	level, message, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	return Entry{At: at, Level: Level(level), Message: strings.TrimSpace(message)}, true
}

func (e Entry) opensRun() bool {
	return e.Level == LevelRun && strings.Contains(e.Message, " started")
}

// Logbook is the human readable journal of sync runs, one line per run
// boundary or finished checkout.
type Logbook struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// Option customizes a logbook.
type Option func(*Logbook)

// WithClock stamps entries with clock instead of the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates a logbook that writes to the provided path.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	book := &Logbook{path: path, clock: time.Now}
	for _, opt := range opts {
		opt(book)
	}
	return book, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry. Journal writes are best effort; a run never
// fails because its journal could not be written.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := Entry{At: l.clock(), Level: level, Message: strings.TrimSpace(message)}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(entry.String() + "\n")
}

// BeginRun opens a run section.
func (l *Logbook) BeginRun(command string, jobs int) {
	l.Append(LevelRun, fmt.Sprintf("%s started with %d jobs", command, jobs))
}

// EndRun closes the section BeginRun opened with the run's final status.
func (l *Logbook) EndRun(command, status string, err error) {
	if err != nil {
		l.Append(LevelRun, fmt.Sprintf("%s finished: %s (%v)", command, status, err))
		return
	}
	l.Append(LevelRun, fmt.Sprintf("%s finished: %s", command, status))
}

func (l *Logbook) readLines() []string {
	file, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// Tail returns up to maxLines of the most recent entries along with the
// total number of entries in the journal.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lines := l.readLines()
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// LastRun returns the entries written since the most recent BeginRun.
func (l *Logbook) LastRun() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []Entry
	for _, line := range l.readLines() {
		entry, ok := ParseEntry(line)
		if !ok {
			continue
		}
		if entry.opensRun() {
			entries = entries[:0]
		}
		entries = append(entries, entry)
	}
	return entries
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}
