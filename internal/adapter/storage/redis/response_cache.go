package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payhub/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// ResponseCache implements ports.ResponseCache using Redis. Entries are
// JSON-encoded so the request hash travels with the stored response and
// key-reuse conflicts are still caught on the fast path.
type ResponseCache struct {
	client *goredis.Client
	prefix string
}

// NewResponseCache creates a new Redis-backed idempotency response cache.
func NewResponseCache(client *goredis.Client) *ResponseCache {
	return &ResponseCache{
		client: client,
		prefix: "idempotency:",
	}
}

// Get retrieves a cached response by idempotency key.
// Returns nil, nil if the key does not exist.
func (c *ResponseCache) Get(ctx context.Context, key string) (*ports.CachedResponse, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis response cache get: %w", err)
	}

	var cached ports.CachedResponse
	if err := json.Unmarshal(val, &cached); err != nil {
		return nil, fmt.Errorf("redis response cache decode: %w", err)
	}
	return &cached, nil
}

// Set stores a terminal response with TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, value *ports.CachedResponse, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis response cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis response cache set: %w", err)
	}
	return nil
}
