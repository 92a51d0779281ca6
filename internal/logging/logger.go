package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger appends structured lines to .gsync/logs/gsync.log so users can
// inspect a failed sync after the terminal output scrolled away.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Options tunes the logger.
type Options struct {
	Level slog.Level
	// Verbose tees records to Stderr as text.
	Verbose bool
	Stderr  io.Writer
}

// New creates (or reuses) the log file at path.
func New(path string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	handler := slog.Handler(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: opts.Level}))
	if opts.Verbose {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		handler = fanout{handler, slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.Level})}
	}
	return &Logger{Logger: slog.New(handler), file: f}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
