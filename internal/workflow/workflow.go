// internal/workflow/workflow.go
//
// Defines the checkout root layout and file constants.
// The root holds the spec file, one directory per dependency path, and the
// .gsync/ directory where state and logs live.

package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File names used inside a checkout root.
const (
	SpecFileName    = ".gsync.yaml"
	DefaultDepsFile = "DEPS"
	StateDirName    = ".gsync"
	FileEntries     = "entries.json"
)

// ErrSpecNotFound is returned when no spec file exists in the directory or any
// of its parents.
var ErrSpecNotFound = errors.New("workflow: no " + SpecFileName + " found")

// Workspace manages paths under a checkout root.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at dir.
func NewWorkspace(root string) *Workspace {
	return &Workspace{root: filepath.Clean(root)}
}

// Root returns the checkout root.
func (w *Workspace) Root() string {
	return w.root
}

// SpecPath returns the path to the root spec file.
func (w *Workspace) SpecPath() string {
	return filepath.Join(w.root, SpecFileName)
}

// StateDir returns the path to .gsync/state.
func (w *Workspace) StateDir() string {
	return filepath.Join(w.root, StateDirName, "state")
}

// EntriesPath returns the path to the persisted entries snapshot.
func (w *Workspace) EntriesPath() string {
	return filepath.Join(w.StateDir(), FileEntries)
}

// CheckoutDir returns the on-disk directory for a dependency path.
func (w *Workspace) CheckoutDir(name string) string {
	return filepath.Join(w.root, filepath.FromSlash(name))
}

// ManifestPath returns the manifest location for a dependency path.
func (w *Workspace) ManifestPath(name, depsFile string) string {
	if depsFile == "" {
		depsFile = DefaultDepsFile
	}
	return filepath.Join(w.CheckoutDir(name), filepath.FromSlash(depsFile))
}

// FindRoot walks up from dir until it finds a directory containing the spec
// file.
func FindRoot(dir string) (string, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("workflow: resolve %s: %w", dir, err)
	}
	for {
		if fileExistsAt(filepath.Join(current, SpecFileName)) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", ErrSpecNotFound
		}
		current = parent
	}
}

// CleanPath normalizes a dependency path to forward slashes without leading
// or trailing separators.
func CleanPath(name string) string {
	trimmed := strings.TrimSpace(filepath.ToSlash(name))
	if trimmed == "" {
		return ""
	}
	cleaned := filepath.ToSlash(filepath.Clean(trimmed))
	return strings.Trim(cleaned, "/")
}

func fileExistsAt(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
