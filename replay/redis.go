package replay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard is a replay guard backed by Redis. SET NX with a TTL is the
// atomic check-and-set; it is safe across any number of gate instances.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard creates a replay guard on an existing Redis client.
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client, prefix: "x402:consumed:"}
}

// CheckAndSet implements Guard.
func (g *RedisGuard) CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return g.client.SetNX(ctx, g.prefix+key, "1", ttl).Result()
}
