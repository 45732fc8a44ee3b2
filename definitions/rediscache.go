package definitions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDefinitionsCache implements DefinitionsCache on Redis so multiple
// server instances share one view of a workspace's active definitions.
// Definitions are stored as a JSON array under one key per workspace.
//
// The DefinitionsCache interface carries no context; Redis calls use a
// short internal timeout, and any Redis failure degrades to a cache miss.
type RedisDefinitionsCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

const redisCacheTimeout = 2 * time.Second

// NewRedisDefinitionsCache creates a Redis-backed cache for one workspace.
// A zero TTL falls back to one hour; unlike the in-memory cache, entries in
// a shared store should not live forever if an invalidation is missed.
func NewRedisDefinitionsCache(client *redis.Client, workspaceID string, ttl time.Duration) *RedisDefinitionsCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisDefinitionsCache{
		client: client,
		key:    "growthos:definitions:" + workspaceID,
		ttl:    ttl,
	}
}

// Get retrieves cached definitions, returning nil on miss or any Redis error
func (c *RedisDefinitionsCache) Get() []*Definition {
	ctx, cancel := context.WithTimeout(context.Background(), redisCacheTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		return nil
	}

	var defs []*Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		// Corrupt entry: treat as a miss and drop it
		c.client.Del(ctx, c.key)
		return nil
	}
	return defs
}

// Set stores definitions under the workspace key with the configured TTL
func (c *RedisDefinitionsCache) Set(defs []*Definition) {
	data, err := json.Marshal(defs)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisCacheTimeout)
	defer cancel()

	c.client.Set(ctx, c.key, data, c.ttl)
}

// Invalidate deletes the workspace key
func (c *RedisDefinitionsCache) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), redisCacheTimeout)
	defer cancel()

	c.client.Del(ctx, c.key)
}

// IsValid reports whether the workspace key currently exists
func (c *RedisDefinitionsCache) IsValid() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisCacheTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, c.key).Result()
	return err == nil && n > 0
}
