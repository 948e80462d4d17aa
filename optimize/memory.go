package optimize

import (
	"maps"
	"sync"
)

// MemoryStoreName is the registry name of MemoryStore.
const MemoryStoreName = "memory"

// MemoryStore keeps footprints in process memory. Footprints recorded
// during a lifecycle become visible to the next one only when Stop is
// called with persist set.
type MemoryStore struct {
	mu        sync.Mutex
	started   bool
	committed map[Coordinate]string
	pending   map[Coordinate]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		committed: map[Coordinate]string{},
	}
}

func (s *MemoryStore) Start(StoreConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.pending = maps.Clone(s.committed)
	s.started = true
	return nil
}

func (s *MemoryStore) Stop(persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if persist {
		s.committed = s.pending
	}
	s.pending = nil
	s.started = false
}

func (s *MemoryStore) TestHasChanged(project, version, key, footprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return true, ErrStoreNotStarted
	}
	if footprint == "" {
		return true, nil
	}
	recorded, ok := s.pending[Coordinate{Project: project, Version: version, Key: key}]
	return !ok || recorded != footprint, nil
}

func (s *MemoryStore) StoreTestFootprint(project, version, key, footprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrStoreNotStarted
	}
	s.pending[Coordinate{Project: project, Version: version, Key: key}] = footprint
	return nil
}

// Footprint returns the committed footprint of a coordinate.
func (s *MemoryStore) Footprint(c Coordinate) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, ok := s.committed[c]
	return fp, ok
}

// Len returns the number of committed footprints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.committed)
}
