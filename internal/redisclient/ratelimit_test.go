// Copyright 2025 James Ross
package redisclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRateLimiter(rdb, "copper:ratelimit:test", 2)
	ctx := context.Background()

	ok, err := rl.Allow(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.Allow(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.Allow(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, ok, "third call within the same second must be rejected")
}

func TestRateLimiterDisabledWhenLimitNotPositive(t *testing.T) {
	rl := NewRateLimiter(nil, "copper:ratelimit:test", 0)
	ok, err := rl.Allow(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
}
