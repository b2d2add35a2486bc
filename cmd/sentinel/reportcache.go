package main

import (
	"context"
	"time"

	"github.com/bluesky-social/sentinel/safety/store"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// stored daily reports never change, so cached copies can live as long as memory allows
const reportCacheTTL = 24 * time.Hour

// Read-through cache of stored daily reports for the operator API. Shared via redis when configured, otherwise process-local.
type reportCache struct {
	store *store.Store
	data  *cache.Cache
}

func newReportCache(st *store.Store, rdb *redis.Client) *reportCache {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(1_000, time.Hour),
	}
	if rdb != nil {
		opts.Redis = rdb
	}
	return &reportCache{store: st, data: cache.New(opts)}
}

// Returns the stored report, or store.ErrNotFound. Missing reports are not cached: they may be generated later.
func (rc *reportCache) Get(ctx context.Context, communityID, day string) (*store.DailyReport, error) {
	var r store.DailyReport
	err := rc.data.Once(&cache.Item{
		Ctx:   ctx,
		Key:   "sentinel/report/" + communityID + "/" + day,
		Value: &r,
		TTL:   reportCacheTTL,
		Do: func(*cache.Item) (any, error) {
			return rc.store.GetReport(ctx, communityID, day)
		},
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
