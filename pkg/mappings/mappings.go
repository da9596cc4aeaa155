// Package mappings persists the dataset-to-label-file association so a
// reloaded dataset finds its precomputed spike times again.
package mappings

import (
	"context"
	"sync"

	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Backend defines the interface for mapping persistence backends.
type Backend interface {
	// Load retrieves the full dataset-to-label map.
	Load(ctx context.Context) (map[string]string, error)

	// Save persists the full map, replacing the stored state.
	Save(ctx context.Context, m map[string]string) error

	// Name returns the backend name for logging/debugging.
	Name() string

	// Close releases backend resources.
	Close() error
}

// Store keeps the mapping in memory and writes through to a backend on every
// change.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string
	backend Backend
}

// NewStore loads the current state from the backend. A backend with no prior
// state yields an empty store.
func NewStore(ctx context.Context, backend Backend) (*Store, error) {
	entries, err := backend.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "load label mappings")
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return &Store{entries: entries, backend: backend}, nil
}

// Get returns the label file mapped to a dataset.
func (s *Store) Get(dataset string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	label, ok := s.entries[dataset]
	return label, ok
}

// All returns a copy of the full mapping.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Set associates a dataset with a label file and persists the change.
func (s *Store) Set(ctx context.Context, dataset, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[dataset]
	s.entries[dataset] = label
	if err := s.backend.Save(ctx, s.entries); err != nil {
		if had {
			s.entries[dataset] = prev
		} else {
			delete(s.entries, dataset)
		}
		return errors.Wrap(err, errors.CodeStorage, "save label mappings")
	}
	return nil
}

// Delete removes a dataset's mapping and persists the change. Deleting an
// unmapped dataset is a no-op.
func (s *Store) Delete(ctx context.Context, dataset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[dataset]
	if !had {
		return nil
	}
	delete(s.entries, dataset)
	if err := s.backend.Save(ctx, s.entries); err != nil {
		s.entries[dataset] = prev
		return errors.Wrap(err, errors.CodeStorage, "save label mappings")
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
