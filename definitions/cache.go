package definitions

import "time"

// DefinitionsCache abstracts caching of a workspace's active definitions so
// the engine does not hit the database on every evaluation request. Backends
// can be in-memory or Redis.
type DefinitionsCache interface {
	// Get retrieves cached definitions, returns nil on miss or expiry
	Get() []*Definition

	// Set stores definitions in cache
	Set(defs []*Definition)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the default: no TTL, invalidate on mutations.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
