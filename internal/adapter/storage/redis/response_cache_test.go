package redis

import (
	"context"
	"testing"
	"time"

	"payhub/internal/core/ports"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache_SetAndGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewResponseCache(client)
	ctx := context.Background()

	key := "order-key-001"
	value := &ports.CachedResponse{
		RequestHash: "abc123",
		Body:        []byte(`{"id":"p1","status":"succeeded"}`),
		Status:      201,
	}

	// Get before set => nil
	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	// Set
	err = cache.Set(ctx, key, value, 24*time.Hour)
	require.NoError(t, err)

	// Get after set: hash, body and status all round-trip
	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "abc123", result.RequestHash)
	assert.Equal(t, []byte(`{"id":"p1","status":"succeeded"}`), result.Body)
	assert.Equal(t, 201, result.Status)
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewResponseCache(client)
	ctx := context.Background()

	err := cache.Set(ctx, "order-key-002", &ports.CachedResponse{Status: 201}, 1*time.Second)
	require.NoError(t, err)

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, "order-key-002")
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}
