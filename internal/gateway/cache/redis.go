package cache

import (
	"context"
	"time"

	"github.com/fleamart/search-gateway/internal/shared/redis"
)

// Redis is a Store backed by a shared Redis instance so cache entries
// survive restarts and are visible across gateway replicas. An outage
// of the backing store degrades to a permanent miss.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing Redis client as a Store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the value for key, treating any backend error as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores value under key for ttl, swallowing backend errors.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	_ = r.client.Set(ctx, key, value, ttl)
}

// Delete removes key, swallowing backend errors.
func (r *Redis) Delete(ctx context.Context, key string) {
	_ = r.client.Delete(ctx, key)
}
