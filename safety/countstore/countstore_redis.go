package countstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCountPrefix    = "sentinel/count/"
	redisDistinctPrefix = "sentinel/distinct/"
)

// CountStore backed by redis: plain integer keys for counts, HyperLogLog keys for distinct counts.
//
// Day and hour buckets expire Retention after the end of their period; totals never expire.
type RedisCountStore struct {
	Client    *redis.Client
	Retention time.Duration
}

var _ CountStore = (*RedisCountStore)(nil)

// Wraps an existing client, which the caller has already checked is reachable.
func NewRedisCountStore(rdb *redis.Client) *RedisCountStore {
	return &RedisCountStore{
		Client: rdb,
		// long enough for the daily report to read yesterday's buckets
		Retention: 72 * time.Hour,
	}
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string, at time.Time) (int, error) {
	key, err := periodBucket(name, val, period, at)
	if err != nil {
		return 0, err
	}
	c, err := s.Client.Get(ctx, redisCountPrefix+key).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string, at time.Time) error {
	// increment multiple counters in a single redis round-trip
	multi := s.Client.Pipeline()
	for _, p := range allPeriods {
		key, err := periodBucket(name, val, p, at)
		if err != nil {
			return err
		}
		multi.Incr(ctx, redisCountPrefix+key)
		if end := periodEnd(p, at); !end.IsZero() {
			multi.ExpireAt(ctx, redisCountPrefix+key, end.Add(s.Retention))
		}
	}
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string, at time.Time) (int, error) {
	key, err := periodBucket(name, bucket, period, at)
	if err != nil {
		return 0, err
	}
	c, err := s.Client.PFCount(ctx, redisDistinctPrefix+key).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string, at time.Time) error {
	multi := s.Client.Pipeline()
	for _, p := range allPeriods {
		key, err := periodBucket(name, bucket, p, at)
		if err != nil {
			return err
		}
		multi.PFAdd(ctx, redisDistinctPrefix+key, val)
		if end := periodEnd(p, at); !end.IsZero() {
			multi.ExpireAt(ctx, redisDistinctPrefix+key, end.Add(s.Retention))
		}
	}
	_, err := multi.Exec(ctx)
	return err
}
