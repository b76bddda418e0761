// Package state persists the progress of a server install so reruns can
// skip finished steps and the health checker can pick a service profile.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"redelk/internal/layout"

	"github.com/google/uuid"
)

const schemaVersion = "1.0"

// Step records a completed install step.
type Step struct {
	Name      string    `json:"name"`
	Completed time.Time `json:"completed"`
}

// State is the on-disk install record.
type State struct {
	Version       string    `json:"version"`
	RunID         string    `json:"run_id"`
	InstallType   string    `json:"install_type,omitempty"`
	ServerAddress string    `json:"server_address,omitempty"`
	Started       time.Time `json:"started"`
	Updated       time.Time `json:"updated"`
	Steps         []Step    `json:"steps"`
}

// Done reports whether step completed in an earlier or the current run.
func (s *State) Done(step string) bool {
	for _, st := range s.Steps {
		if st.Name == step {
			return true
		}
	}
	return false
}

// Store reads and writes a State file.
type Store struct {
	mu    sync.Mutex
	path  string
	state *State
	now   func() time.Time
}

// Open loads the state at path. A missing file starts a fresh state with
// a new run ID.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	st, err := Read(path)
	if err != nil {
		return nil, err
	}
	if st == nil {
		now := s.now().UTC()
		st = &State{Version: schemaVersion, RunID: uuid.NewString(), Started: now, Updated: now}
	}
	s.state = st
	return s, nil
}

// Read returns the state stored at path, or nil if there is none.
func Read(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.state
	cp.Steps = append([]Step(nil), s.state.Steps...)
	return cp
}

// RunID is the identifier of the install run.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RunID
}

// Done reports whether step is recorded as complete.
func (s *Store) Done(step string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Done(step)
}

// SetInstall records the install type and address and saves.
func (s *Store) SetInstall(installType, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.InstallType = installType
	s.state.ServerAddress = address
	return s.saveLocked()
}

// Complete marks step finished and saves. Completing a step twice keeps
// the first timestamp.
func (s *Store) Complete(step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Done(step) {
		s.state.Steps = append(s.state.Steps, Step{Name: step, Completed: s.now().UTC()})
	}
	return s.saveLocked()
}

// Save writes the state atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	s.state.Version = schemaVersion
	s.state.Updated = s.now().UTC()
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := layout.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
