package sweep

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker elects one replica per job run.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// RedisLocker takes a SETNX lock that simply expires; runs are short and idempotent, so
// there is no unlock.
type RedisLocker struct {
	client SetNXer
	prefix string
}

// SetNXer is the slice of the Redis client the lock needs.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

func NewRedisLocker(client SetNXer) *RedisLocker {
	return &RedisLocker{client: client, prefix: "zenlist:sweep:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+name, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}
