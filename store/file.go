// Package store persists ledger state as a single JSON file. Writes go to a
// temporary file in the same directory and are renamed into place, so a
// crash mid-write never corrupts the last valid state.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rmorriss/tradegate/ledger"
)

// CorruptError means the state file exists but cannot be parsed. This is
// fatal at startup: the caller must not reset state, a human has to look.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store: state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// FileStore is a ledger.Store backed by one JSON file.
type FileStore struct {
	path string
}

func NewFile(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the full state durably: marshal, write to a temp file, fsync,
// rename over the previous file.
func (s *FileStore) Save(state *ledger.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("store: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("store: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: replace state file: %w", err)
	}
	return nil
}

// Load returns the last successfully saved state, or a fresh empty state
// when no file exists yet. Present-but-unparseable data returns a
// CorruptError.
func (s *FileStore) Load() (*ledger.State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read state file: %w", err)
	}

	state := ledger.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, &CorruptError{Path: s.path, Err: err}
	}
	if state.Archive == nil {
		state.Archive = make(map[string]*ledger.MonthStats)
	}
	return state, nil
}
