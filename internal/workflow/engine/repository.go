package engine

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kingrea/gsync/internal/workflow"
)

// ErrStateNotFound is returned when no run has been persisted yet.
var ErrStateNotFound = errors.New("engine: state not found")

// StateStore persists run snapshots.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores the last run snapshot in the workspace state directory.
type Repository struct {
	path string
}

// NewRepository creates a repository for the workspace entries file.
func NewRepository(ws *workflow.Workspace) *Repository {
	return &Repository{path: ws.EntriesPath()}
}

// Path reports where snapshots are written.
func (r *Repository) Path() string {
	return r.path
}

// Load reads the persisted state if present.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save writes the state through a temp file and rename.
func (r *Repository) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
