// Copyright 2025 James Ross
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter built on INCR+EXPIRE, the same
// per-second counter key the teacher's producer rate limit used against
// Redis directly, generalized here to a reusable type keyed by caller.
type RateLimiter struct {
	rdb       *redis.Client
	keyPrefix string
	limit     int
}

// NewRateLimiter builds a limiter enforcing limit events per second per key.
// A non-positive limit disables the limiter: Allow always returns true.
func NewRateLimiter(rdb *redis.Client, keyPrefix string, limit int) *RateLimiter {
	return &RateLimiter{rdb: rdb, keyPrefix: keyPrefix, limit: limit}
}

// Allow reports whether one more event for key is permitted in the current
// one-second window, incrementing the window's counter as a side effect.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	window := time.Now().Unix()
	windowKey := fmt.Sprintf("%s:%s:%d", r.keyPrefix, key, window)

	count, err := r.rdb.Incr(ctx, windowKey).Result()
	if err != nil {
		return false, fmt.Errorf("redisclient: incrementing rate limit counter: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, windowKey, 2*time.Second).Err(); err != nil {
			return false, fmt.Errorf("redisclient: setting rate limit counter expiry: %w", err)
		}
	}
	return count <= int64(r.limit), nil
}
