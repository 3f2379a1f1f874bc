package services

import (
	"context"
	"time"

	"github.com/sellerops/marketsync/internal/redisclient"
)

// Locker is a short-lived lease used to serialize job creation and chunk
// processing across replicas.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SETNX leases.
type RedisLocker struct {
	redis *redisclient.Client
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(redis *redisclient.Client) *RedisLocker {
	return &RedisLocker{redis: redis}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.redis.SetNX(ctx, key, time.Now().UnixNano(), ttl).Result()
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
