package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"offlinewatch/internal/models"
)

const defaultTransitionLimit = 4096

// TransitionStorage persists connection state transitions to disk.
type TransitionStorage struct {
	mu      sync.RWMutex
	path    string
	limit   int
	history []models.StateTransition
}

// NewTransitionStorage creates a storage instance and loads existing history if present.
// At most limit transitions are kept; older ones are dropped on append.
func NewTransitionStorage(path string, limit int) (*TransitionStorage, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTransitionLimit
	}

	s := &TransitionStorage{path: path, limit: limit}
	var entries []models.StateTransition
	if _, err := readJSON(path, &entries); err != nil {
		return nil, fmt.Errorf("load transitions: %w", err)
	}
	s.history = trimTransitions(entries, limit)
	return s, nil
}

// Append adds a transition and persists the history.
func (s *TransitionStorage) Append(transition models.StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = trimTransitions(append(s.history, transition), s.limit)
	if err := writeJSONAtomic(s.path, s.history); err != nil {
		return fmt.Errorf("persist transitions: %w", err)
	}
	return nil
}

// Latest returns the latest transition if it exists.
func (s *TransitionStorage) Latest() (models.StateTransition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.StateTransition{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the stored transitions, oldest first.
func (s *TransitionStorage) History() []models.StateTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]models.StateTransition, len(s.history))
	copy(copied, s.history)
	return copied
}

// HistorySince returns transitions at or after cutoff.
func (s *TransitionStorage) HistorySince(cutoff time.Time) []models.StateTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.history), func(i int) bool {
		return !s.history[i].At.Before(cutoff)
	})
	out := make([]models.StateTransition, len(s.history)-idx)
	copy(out, s.history[idx:])
	return out
}

func trimTransitions(entries []models.StateTransition, limit int) []models.StateTransition {
	if len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	return nil
}

// readJSON decodes path into v. Missing and empty files leave v untouched
// and report false.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSONAtomic(path string, v any) error {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
