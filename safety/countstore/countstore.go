package countstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

var ErrUnknownPeriod = errors.New("unknown counter period")

// Named, time-bucketed counters. Used for per-community daily activity totals and for enforcement quotas (circuit breakers).
//
// Buckets are chosen from the event time passed in, not the wall clock, so replayed events land in the day they happened.
type CountStore interface {
	// Count of the bucket of the given period which contains at.
	GetCount(ctx context.Context, name, val, period string, at time.Time) (int, error)
	Increment(ctx context.Context, name, val string, at time.Time) error
	// Number of distinct values added to the bucket of the given period which contains at.
	GetCountDistinct(ctx context.Context, name, bucket, period string, at time.Time) (int, error)
	IncrementDistinct(ctx context.Context, name, bucket, val string, at time.Time) error
}

var allPeriods = []string{PeriodTotal, PeriodDay, PeriodHour}

// Key for the bucket of period containing at. Day and hour buckets are UTC.
func periodBucket(name, val, period string, at time.Time) (string, error) {
	at = at.UTC()
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val), nil
	case PeriodDay:
		return fmt.Sprintf("%s/%s/%s", name, val, at.Format(time.DateOnly)), nil
	case PeriodHour:
		return fmt.Sprintf("%s/%s/%s", name, val, at.Format("2006-01-02T15")), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
}

// End of the bucket containing at; zero for totals, which never expire.
func periodEnd(period string, at time.Time) time.Time {
	at = at.UTC()
	switch period {
	case PeriodDay:
		return at.Truncate(24 * time.Hour).Add(24 * time.Hour)
	case PeriodHour:
		return at.Truncate(time.Hour).Add(time.Hour)
	}
	return time.Time{}
}
