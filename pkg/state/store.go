package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists the loop state as pretty-printed JSON.
type Store struct {
	path string
}

// NewStore creates a state store writing to the given file path, creating
// the parent directory if needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Load reads the persisted state, validating fields and falling back to
// defaults on invalid values. A missing or unreadable file yields a fresh
// first-run state rather than an error.
func (s *Store) Load() (*State, error) {
	fileData, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	var st State
	if err := json.Unmarshal(fileData, &st); err != nil {
		// A corrupt state file must not wedge the loop; start over.
		return New(), nil
	}

	st.normalize()
	return &st, nil
}

// Save writes the state atomically (temp file + rename) so a crash mid-write
// never leaves a truncated state file behind.
func (s *Store) Save(st *State) error {
	if st == nil {
		return fmt.Errorf("state cannot be nil")
	}

	st.LastUpdate = time.Now().UTC()

	jsonData, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}
