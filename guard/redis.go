package guard

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters is a CounterStore backed by Redis, for deployments where
// several processes must share rate-limit windows.
type RedisCounters struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCounters creates a Redis-backed counter store. Keys are
// namespaced under the given prefix.
func NewRedisCounters(rdb *redis.Client, prefix string) *RedisCounters {
	if prefix == "" {
		prefix = "guard:rl:"
	}
	return &RedisCounters{rdb: rdb, prefix: prefix}
}

// Incr implements CounterStore. The window TTL is set when the counter
// is first created; later increments ride the existing window.
func (r *RedisCounters) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := r.prefix + key
	count, err := r.rdb.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, full, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
