package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Run is one supervised launch recorded in the state directory, so later
// invocations (status, monitor, stop) can find it.
type Run struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid"`
	LogPath   string    `json:"log_path"`
	Command   []string  `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// Alive reports whether the run's process still exists.
func (r Run) Alive() bool { return ProcessAlive(r.PID) }

// Manifest persists the set of supervised runs as JSON under the state
// directory.
type Manifest struct {
	path string
}

// NewManifest returns a manifest stored at <stateDir>/runs.json.
func NewManifest(stateDir string) *Manifest {
	return &Manifest{path: filepath.Join(stateDir, "runs.json")}
}

// List returns all recorded runs. A missing file is an empty manifest.
func (m *Manifest) List() ([]Run, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run manifest: %w", err)
	}

	var runs []Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run manifest: %w", err)
	}
	return runs, nil
}

// Add records a run.
func (m *Manifest) Add(run Run) error {
	runs, err := m.List()
	if err != nil {
		return err
	}
	runs = append(runs, run)
	return m.save(runs)
}

// Remove drops a run by ID. Removing an unknown ID is not an error.
func (m *Manifest) Remove(id string) error {
	runs, err := m.List()
	if err != nil {
		return err
	}

	kept := runs[:0]
	for _, r := range runs {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return m.save(kept)
}

// Prune drops runs whose process no longer exists and returns the survivors.
func (m *Manifest) Prune() ([]Run, error) {
	runs, err := m.List()
	if err != nil {
		return nil, err
	}

	kept := runs[:0]
	for _, r := range runs {
		if r.Alive() {
			kept = append(kept, r)
		}
	}
	if err := m.save(kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func (m *Manifest) save(runs []Run) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run manifest: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run manifest: %w", err)
	}
	return nil
}
