package storage

import (
	"fmt"
	"sync"

	"offlinewatch/internal/models"
)

// NetworkStorage persists reachability samples between restarts.
type NetworkStorage struct {
	mu      sync.RWMutex
	path    string
	history []models.NetworkSample
}

// NewNetworkStorage initialises storage and loads existing samples if present.
func NewNetworkStorage(path string) (*NetworkStorage, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	store := &NetworkStorage{path: path}
	if _, err := readJSON(path, &store.history); err != nil {
		return nil, fmt.Errorf("load network samples: %w", err)
	}
	return store, nil
}

// History returns a copy of the persisted samples.
func (s *NetworkStorage) History() []models.NetworkSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil
	}
	out := make([]models.NetworkSample, len(s.history))
	copy(out, s.history)
	return out
}

// Replace overwrites the stored samples with the provided entries.
func (s *NetworkStorage) Replace(entries []models.NetworkSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = make([]models.NetworkSample, len(entries))
	copy(s.history, entries)
	if err := writeJSONAtomic(s.path, s.history); err != nil {
		return fmt.Errorf("persist network samples: %w", err)
	}
	return nil
}
