package storage

import (
	"fmt"
	"sync"

	"offlinewatch/internal/models"
)

// IndicatorStateStorage keeps the offline indicator state across restarts.
type IndicatorStateStorage struct {
	mu    sync.Mutex
	path  string
	state models.IndicatorState
}

// NewIndicatorStateStorage opens the state file, creating its directory.
func NewIndicatorStateStorage(path string) (*IndicatorStateStorage, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	s := &IndicatorStateStorage{path: path}
	if _, err := readJSON(path, &s.state); err != nil {
		return nil, fmt.Errorf("load indicator state: %w", err)
	}
	return s, nil
}

// LoadIndicatorState returns the last saved state.
func (s *IndicatorStateStorage) LoadIndicatorState() (models.IndicatorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// SaveIndicatorState replaces the saved state.
func (s *IndicatorStateStorage) SaveIndicatorState(state models.IndicatorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSONAtomic(s.path, state); err != nil {
		return fmt.Errorf("persist indicator state: %w", err)
	}
	s.state = state
	return nil
}
