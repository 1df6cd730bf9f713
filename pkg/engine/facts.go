package engine

import (
	"sort"
	"sync"
)

// FactStore holds facts captured under task register names. It is
// owned by an Executor, never process-global, so concurrent runs in
// one process stay isolated. Inserts are last-write-wins per name and
// safe under concurrent host flows.
type FactStore struct {
	mu    sync.RWMutex
	facts map[string]map[string]string
}

// NewFactStore returns an empty fact store.
func NewFactStore() *FactStore {
	return &FactStore{facts: make(map[string]map[string]string)}
}

// Set stores facts under name, replacing any previous entry.
func (s *FactStore) Set(name string, facts map[string]string) {
	copied := make(map[string]string, len(facts))
	for k, v := range facts {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[name] = copied
}

// Get returns a copy of the facts stored under name.
func (s *FactStore) Get(name string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.facts[name]
	if !ok {
		return nil, false
	}
	copied := make(map[string]string, len(stored))
	for k, v := range stored {
		copied[k] = v
	}
	return copied, true
}

// Names returns all register names in ascending order.
func (s *FactStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.facts))
	for name := range s.facts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
