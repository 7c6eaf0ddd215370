// Package state persists the small bits of runtime state that must
// survive restarts: the active chat model and the document count. The
// state lives in a JSON file in the data dir, guarded in-process by a
// mutex and cross-process by a file lock.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const stateFile = "doclens_state.json"

// snapshot is the on-disk shape.
type snapshot struct {
	ActiveModel   string    `json:"active_model"`
	DocumentCount int       `json:"document_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// AppState is the persisted application state. Reads and writes are
// serialized; every mutation is flushed to disk before returning.
type AppState struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	snap snapshot
}

// Open loads the state file from dataDir, creating an empty state when
// none exists.
func Open(dataDir string) (*AppState, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, stateFile)
	s := &AppState{
		path: path,
		lock: flock.New(path + ".lock"),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if err := json.Unmarshal(data, &s.snap); err != nil {
		// A corrupt state file is not fatal: start fresh.
		s.snap = snapshot{}
	}
	return s, nil
}

// ActiveModel returns the persisted active chat model, or "".
func (s *AppState) ActiveModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ActiveModel
}

// DocumentCount returns the last recorded document count.
func (s *AppState) DocumentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.DocumentCount
}

// LastUpdated returns the time of the last state change; zero for a
// fresh state.
func (s *AppState) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.LastUpdated
}

// SetActiveModel records the active chat model and persists.
func (s *AppState) SetActiveModel(model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ActiveModel = model
	return s.flush()
}

// SetDocumentCount records the document count and persists.
func (s *AppState) SetDocumentCount(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DocumentCount = n
	return s.flush()
}

// flush writes the state file under the cross-process lock. Callers hold
// s.mu.
func (s *AppState) flush() error {
	s.snap.LastUpdated = time.Now().UTC()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename keeps the file whole under crashes.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
