package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepLock_AcquireAndContend(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewSweepLock(client)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, "instance-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second owner is rejected while the lease is held
	ok, err = lock.TryAcquire(ctx, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepLock_ReleaseFreesLease(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewSweepLock(client)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, "instance-a"))

	ok, err = lock.TryAcquire(ctx, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSweepLock_ReleaseByNonOwnerKeepsLease(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewSweepLock(client)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale owner releasing must not free the current holder's lease
	require.NoError(t, lock.Release(ctx, "instance-b"))

	ok, err = lock.TryAcquire(ctx, "instance-c", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepLock_ExpiresWithTTL(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewSweepLock(client)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, "instance-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Second)

	ok, err = lock.TryAcquire(ctx, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease should be free after TTL expiry")
}
