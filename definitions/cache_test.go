package definitions

import (
	"testing"
	"time"
)

func TestInMemoryCache_MissWhenEmpty(t *testing.T) {
	cache := NewInMemoryDefinitionsCache(DefaultCacheConfig())

	if got := cache.Get(); got != nil {
		t.Errorf("Expected nil from empty cache, got %v", got)
	}
	if cache.IsValid() {
		t.Error("Empty cache should not be valid")
	}
}

func TestInMemoryCache_SetAndGet(t *testing.T) {
	cache := NewInMemoryDefinitionsCache(DefaultCacheConfig())

	cache.Set([]*Definition{testDefinition("def-1", "Activated")})

	got := cache.Get()
	if len(got) != 1 {
		t.Fatalf("Expected 1 cached definition, got %d", len(got))
	}
	if got[0].ID != "def-1" {
		t.Errorf("Expected def-1, got %s", got[0].ID)
	}
	if !cache.IsValid() {
		t.Error("Cache should be valid after Set")
	}
}

func TestInMemoryCache_GetReturnsCopy(t *testing.T) {
	cache := NewInMemoryDefinitionsCache(DefaultCacheConfig())
	cache.Set([]*Definition{testDefinition("def-1", "Activated")})

	first := cache.Get()
	first[0] = nil

	second := cache.Get()
	if second[0] == nil {
		t.Error("Mutating a returned slice should not affect the cache")
	}
}

func TestInMemoryCache_Invalidate(t *testing.T) {
	cache := NewInMemoryDefinitionsCache(DefaultCacheConfig())
	cache.Set([]*Definition{testDefinition("def-1", "Activated")})

	cache.Invalidate()

	if cache.IsValid() {
		t.Error("Cache should be invalid after Invalidate")
	}
	if got := cache.Get(); got != nil {
		t.Errorf("Expected nil after Invalidate, got %v", got)
	}
}

func TestInMemoryCache_TTLExpiry(t *testing.T) {
	cache := NewInMemoryDefinitionsCache(CacheConfig{TTL: 10 * time.Millisecond})
	cache.Set([]*Definition{testDefinition("def-1", "Activated")})

	if got := cache.Get(); len(got) != 1 {
		t.Fatalf("Expected a hit before expiry, got %v", got)
	}

	time.Sleep(20 * time.Millisecond)

	if got := cache.Get(); got != nil {
		t.Error("Expected a miss after TTL expiry")
	}
	if cache.IsValid() {
		t.Error("Cache should report invalid after TTL expiry")
	}
}

func TestInMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	cache := NewInMemoryDefinitionsCache(CacheConfig{TTL: 0})
	cache.Set([]*Definition{testDefinition("def-1", "Activated")})

	time.Sleep(10 * time.Millisecond)

	if got := cache.Get(); len(got) != 1 {
		t.Error("Zero TTL should mean manual invalidation only")
	}
}
