package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestCountsCacheKeyIsPerOwner(t *testing.T) {
	require.Equal(t, "jobqueue:counts:7", countsCacheKey(7))
	require.NotEqual(t, countsCacheKey(7), countsCacheKey(8))
}

func TestCountsCacheInvalidateDropsCachedValue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, countsCacheKey(7), `{"Total":3}`, 0).Err())
	cache := &CountsCache{rdb: rdb, ttl: 5 * time.Second}

	require.NoError(t, cache.Invalidate(ctx, 7))
	_, err = rdb.Get(ctx, countsCacheKey(7)).Result()
	require.ErrorIs(t, err, redis.Nil)
}
