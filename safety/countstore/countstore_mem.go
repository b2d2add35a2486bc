package countstore

import (
	"context"
	"sync"
	"time"
)

// In-process CountStore, for tests and single-instance deployments without redis.
//
// Expired day and hour buckets are dropped lazily on write, once they are older than the retention.
type MemCountStore struct {
	mu        sync.RWMutex
	counts    map[string]int
	distinct  map[string]map[string]struct{}
	expiry    map[string]time.Time
	lastSweep time.Time
	Retention time.Duration
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts:    make(map[string]int),
		distinct:  make(map[string]map[string]struct{}),
		expiry:    make(map[string]time.Time),
		Retention: 72 * time.Hour,
	}
}

var _ CountStore = (*MemCountStore)(nil)

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string, at time.Time) (int, error) {
	key, err := periodBucket(name, val, period, at)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[key], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range allPeriods {
		key, err := periodBucket(name, val, p, at)
		if err != nil {
			return err
		}
		s.counts[key]++
		s.track(key, p, at)
	}
	s.expire(at)
	return nil
}

func (s *MemCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string, at time.Time) (int, error) {
	key, err := periodBucket(name, bucket, period, at)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.distinct[key]), nil
}

func (s *MemCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range allPeriods {
		key, err := periodBucket(name, bucket, p, at)
		if err != nil {
			return err
		}
		m, ok := s.distinct[key]
		if !ok {
			m = make(map[string]struct{})
			s.distinct[key] = m
		}
		m[val] = struct{}{}
		s.track(key, p, at)
	}
	s.expire(at)
	return nil
}

// caller holds the write lock
func (s *MemCountStore) track(key, period string, at time.Time) {
	if end := periodEnd(period, at); !end.IsZero() {
		s.expiry[key] = end.Add(s.Retention)
	}
}

// caller holds the write lock. Scans at most once per hour of event time.
func (s *MemCountStore) expire(now time.Time) {
	if now.Sub(s.lastSweep) < time.Hour {
		return
	}
	s.lastSweep = now
	for key, exp := range s.expiry {
		if now.After(exp) {
			delete(s.counts, key)
			delete(s.distinct, key)
			delete(s.expiry, key)
		}
	}
}
