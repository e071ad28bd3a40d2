// Package cache provides Redis-backed caching for content reads and a
// per-user rate limiter for assistant messages.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, prefix: "content:", ttl: ttl}
}

// Get returns the cached value for a key, or "" when absent. Redis being
// down degrades to a miss, never an error.
func (c *Cache) Get(ctx context.Context, key string) string {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return ""
	}
	return value
}

func (c *Cache) Set(ctx context.Context, key, value string) {
	_ = c.client.Set(ctx, c.prefix+key, value, c.ttl).Err()
}

// InvalidateAll drops every cached content entry. Mutations call this
// instead of targeted invalidation since list keys embed filters and sorts.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// RateLimiter caps how many assistant messages a user may send per window.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = time.Hour
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow increments the user's counter and reports whether they are still
// under the limit. The first hit in a window sets the expiry.
func (r *RateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := "ratelimit:" + userID
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("set rate window: %w", err)
		}
	}
	return count <= int64(r.limit), nil
}

// Remaining returns how many messages the user has left in the window.
func (r *RateLimiter) Remaining(ctx context.Context, userID string) (int, error) {
	count, err := r.client.Get(ctx, "ratelimit:"+userID).Int()
	if err == redis.Nil {
		return r.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rate counter: %w", err)
	}
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
