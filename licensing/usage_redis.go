package licensing

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisUsage is a UsageTracker backed by Redis, for deployments where several
// host processes must share one set of usage counters.
type RedisUsage struct {
	client *redis.Client
}

// NewRedisUsage creates a RedisUsage on an existing client.
func NewRedisUsage(client *redis.Client) *RedisUsage {
	return &RedisUsage{client: client}
}

// Increment implements UsageTracker via INCR.
func (r *RedisUsage) Increment(ctx context.Context, pluginID, tenantID string) (int64, error) {
	n, err := r.client.Incr(ctx, usageKey(pluginID, tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment usage counter: %w", err)
	}
	return n, nil
}

// Current implements UsageTracker.
func (r *RedisUsage) Current(ctx context.Context, pluginID, tenantID string) (int64, error) {
	n, err := r.client.Get(ctx, usageKey(pluginID, tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	return n, nil
}
