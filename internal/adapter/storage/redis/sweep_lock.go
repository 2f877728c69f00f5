package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SweepLock implements ports.SweepLock using Redis SET NX as a lease. The
// lease TTL bounds how long a crashed holder can block other instances.
type SweepLock struct {
	client *goredis.Client
	key    string
}

// NewSweepLock creates a new Redis-backed sweep lease.
func NewSweepLock(client *goredis.Client) *SweepLock {
	return &SweepLock{
		client: client,
		key:    "sweep:retry-lease",
	}
}

// TryAcquire takes the lease if free. Returns false if another owner holds it.
func (l *SweepLock) TryAcquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	result, err := l.client.SetArgs(ctx, l.key, owner, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists — lease is held
			return false, nil
		}
		return false, fmt.Errorf("redis sweep lease acquire: %w", err)
	}
	return result == "OK", nil
}

// Release frees the lease if this owner still holds it. A lease that expired
// and was re-acquired by another owner is left alone.
func (l *SweepLock) Release(ctx context.Context, owner string) error {
	// Compare-and-delete so a new holder's lease is never removed.
	script := goredis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	if err := script.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("redis sweep lease release: %w", err)
	}
	return nil
}
