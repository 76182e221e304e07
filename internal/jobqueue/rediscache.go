package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CountsCache is a read-through Redis mirror in front of Queue.Counts,
// analogous to the teacher's internal/redisclient-backed queue depth
// counters: it exists purely to absorb read load from a busy status page,
// never as the source of truth (Postgres is, per spec §4.6's durability
// requirement — a cache miss or a flushed Redis instance only costs an extra
// query, never correctness).
type CountsCache struct {
	rdb   *redis.Client
	queue *Queue
	ttl   time.Duration
}

// NewCountsCache wraps queue with a Redis-backed cache using the given TTL
// (5s if <= 0).
func NewCountsCache(rdb *redis.Client, queue *Queue, ttl time.Duration) *CountsCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &CountsCache{rdb: rdb, queue: queue, ttl: ttl}
}

func countsCacheKey(owner int64) string {
	return fmt.Sprintf("jobqueue:counts:%d", owner)
}

// Counts returns owner's job counts, serving a cached value when present and
// falling back to Queue.Counts (and repopulating the cache) on a miss.
func (c *CountsCache) Counts(ctx context.Context, owner int64) (Counts, error) {
	key := countsCacheKey(owner)
	if cached, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var counts Counts
		if jsonErr := json.Unmarshal(cached, &counts); jsonErr == nil {
			return counts, nil
		}
	}

	counts, err := c.queue.Counts(ctx, owner)
	if err != nil {
		return Counts{}, err
	}
	if encoded, err := json.Marshal(counts); err == nil {
		_ = c.rdb.Set(ctx, key, encoded, c.ttl).Err()
	}
	return counts, nil
}

// Invalidate drops owner's cached counts immediately, so a just-finished job
// is reflected without waiting out the TTL.
func (c *CountsCache) Invalidate(ctx context.Context, owner int64) error {
	return c.rdb.Del(ctx, countsCacheKey(owner)).Err()
}
