package definitions

import (
	"fmt"
	"sync"
	"time"
)

// DefinitionStore manages activation definition persistence and retrieval.
type DefinitionStore interface {
	// Add a new definition
	Add(def *Definition) error

	// Get a definition by ID
	Get(id string) (*Definition, error)

	// List all active definitions
	ListActive() ([]*Definition, error)

	// Update an existing definition; every update produces a new version
	Update(def *Definition) error

	// Delete a definition
	Delete(id string) error
}

// InMemoryDefinitionStore implements DefinitionStore with an in-memory map.
// Thread-safe with an RWMutex.
type InMemoryDefinitionStore struct {
	defs map[string]*Definition
	mu   sync.RWMutex
}

// NewInMemoryDefinitionStore creates a new in-memory definition store
func NewInMemoryDefinitionStore() *InMemoryDefinitionStore {
	return &InMemoryDefinitionStore{
		defs: make(map[string]*Definition),
	}
}

// Add adds a new definition, enforcing unique IDs and setting timestamps.
// A definition enters the store at version 1.
func (s *InMemoryDefinitionStore) Add(def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("definition with ID %s already exists", def.ID)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	if def.Version == 0 {
		def.Version = 1
	}
	s.defs[def.ID] = def
	return nil
}

// Get retrieves a definition by ID
func (s *InMemoryDefinitionStore) Get(id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.defs[id]
	if !exists {
		return nil, fmt.Errorf("definition with ID %s not found", id)
	}
	return def, nil
}

// ListActive returns all active definitions
func (s *InMemoryDefinitionStore) ListActive() ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Definition
	for _, def := range s.defs {
		if def.Active {
			active = append(active, def)
		}
	}
	return active, nil
}

// Update replaces an existing definition, preserving CreatedAt and bumping
// the version. The version counter lives in the store so concurrent updates
// cannot both claim the same version.
func (s *InMemoryDefinitionStore) Update(def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.defs[def.ID]
	if !exists {
		return fmt.Errorf("definition with ID %s not found", def.ID)
	}

	def.CreatedAt = existing.CreatedAt
	def.Version = existing.Version + 1
	def.UpdatedAt = time.Now()
	s.defs[def.ID] = def
	return nil
}

// Delete removes a definition from the store
func (s *InMemoryDefinitionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[id]; !exists {
		return fmt.Errorf("definition with ID %s not found", id)
	}

	delete(s.defs, id)
	return nil
}
