package definitions

import (
	"sync"
	"time"
)

// InMemoryDefinitionsCache is the default DefinitionsCache, safe for
// concurrent access.
type InMemoryDefinitionsCache struct {
	defs     []*Definition
	cachedAt time.Time
	config   CacheConfig
	isValid  bool
	mu       sync.RWMutex
}

// NewInMemoryDefinitionsCache creates a new in-memory definitions cache
func NewInMemoryDefinitionsCache(config CacheConfig) *InMemoryDefinitionsCache {
	return &InMemoryDefinitionsCache{
		config: config,
	}
}

// Get retrieves cached definitions, returning nil if invalid or expired.
func (c *InMemoryDefinitionsCache) Get() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil
	}

	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Return a copy so callers cannot mutate the cached slice
	defsCopy := make([]*Definition, len(c.defs))
	copy(defsCopy, c.defs)
	return defsCopy
}

// Set stores definitions in the cache
func (c *InMemoryDefinitionsCache) Set(defs []*Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defs = make([]*Definition, len(defs))
	copy(c.defs, defs)
	c.cachedAt = time.Now()
	c.isValid = true
}

// Invalidate clears the cache
func (c *InMemoryDefinitionsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.defs = nil
}

// IsValid returns true if the cache contains unexpired data
func (c *InMemoryDefinitionsCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return false
	}

	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}

	return true
}
