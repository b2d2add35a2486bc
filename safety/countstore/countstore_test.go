package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodBucket(t *testing.T) {
	assert := assert.New(t)
	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("east", 2*3600))

	k, err := periodBucket("msgs", "c1", PeriodDay, at)
	assert.NoError(err)
	assert.Equal("msgs/c1/2024-03-01", k)
	k, err = periodBucket("msgs", "c1", PeriodHour, at)
	assert.NoError(err)
	assert.Equal("msgs/c1/2024-03-01T21", k)
	k, err = periodBucket("msgs", "c1", PeriodTotal, at)
	assert.NoError(err)
	assert.Equal("msgs/c1", k)

	_, err = periodBucket("msgs", "c1", "week", at)
	assert.ErrorIs(err, ErrUnknownPeriod)

	assert.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), periodEnd(PeriodDay, at))
	assert.Equal(time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC), periodEnd(PeriodHour, at))
	assert.True(periodEnd(PeriodTotal, at).IsZero())
}

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	cs := NewMemCountStore()

	c, err := cs.GetCount(ctx, "bans", "c1", PeriodTotal, day1)
	require.NoError(err)
	assert.Equal(0, c)
	require.NoError(cs.Increment(ctx, "bans", "c1", day1))
	require.NoError(cs.Increment(ctx, "bans", "c1", day1.Add(time.Minute)))
	require.NoError(cs.Increment(ctx, "bans", "c1", day2))

	for period, want := range map[string]int{PeriodTotal: 3, PeriodDay: 2, PeriodHour: 2} {
		c, err = cs.GetCount(ctx, "bans", "c1", period, day1)
		require.NoError(err)
		assert.Equal(want, c, period)
	}
	c, err = cs.GetCount(ctx, "bans", "c1", PeriodDay, day2)
	require.NoError(err)
	assert.Equal(1, c)
	c, err = cs.GetCount(ctx, "bans", "c2", PeriodDay, day2)
	require.NoError(err)
	assert.Equal(0, c)

	_, err = cs.GetCount(ctx, "bans", "c1", "week", day1)
	assert.ErrorIs(err, ErrUnknownPeriod)

	for _, u := range []string{"u1", "u1", "u2", "u3"} {
		require.NoError(cs.IncrementDistinct(ctx, "active", "c1", u, day1))
	}
	require.NoError(cs.IncrementDistinct(ctx, "active", "c1", "u4", day2))
	c, err = cs.GetCountDistinct(ctx, "active", "c1", PeriodDay, day1)
	require.NoError(err)
	assert.Equal(3, c)
	c, err = cs.GetCountDistinct(ctx, "active", "c1", PeriodTotal, day2)
	require.NoError(err)
	assert.Equal(4, c)
}

func TestMemCountStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	cs := NewMemCountStore()
	cs.Retention = 24 * time.Hour
	require.NoError(cs.Increment(ctx, "msgs", "c1", day1))

	// still retained the next day, for the daily report
	require.NoError(cs.Increment(ctx, "msgs", "c1", day1.Add(30*time.Hour)))
	c, err := cs.GetCount(ctx, "msgs", "c1", PeriodDay, day1)
	require.NoError(err)
	assert.Equal(1, c)

	require.NoError(cs.Increment(ctx, "msgs", "c1", day1.Add(72*time.Hour)))
	c, err = cs.GetCount(ctx, "msgs", "c1", PeriodDay, day1)
	require.NoError(err)
	assert.Equal(0, c)
	c, err = cs.GetCount(ctx, "msgs", "c1", PeriodTotal, day1)
	require.NoError(err)
	assert.Equal(3, c)
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	cs := NewMemCountStore()

	// Increment two different values from four different goroutines, and
	// read from two more (run this with `-race`!).
	var wg sync.WaitGroup
	fnInc := func(name, val string, times int) {
		defer wg.Done()
		for i := 0; i < times; i++ {
			assert.NoError(cs.Increment(ctx, name, val, now))
			assert.NoError(cs.IncrementDistinct(ctx, name, name, val, now))
		}
	}
	fnRead := func(name, val string, times int) {
		defer wg.Done()
		for i := 0; i < times; i++ {
			_, err := cs.GetCount(ctx, name, val, PeriodTotal, now)
			assert.NoError(err)
		}
	}
	wg.Add(6)
	go fnInc("test1", "val1", 10)
	go fnInc("test1", "val1", 10)
	go fnRead("test1", "val1", 10)
	go fnInc("test2", "val2", 6)
	go fnInc("test2", "val2", 6)
	go fnRead("test2", "val2", 6)
	wg.Wait()

	c, err := cs.GetCount(ctx, "test1", "val1", PeriodTotal, now)
	assert.NoError(err)
	assert.Equal(20, c)
	c, err = cs.GetCount(ctx, "test2", "val2", PeriodTotal, now)
	assert.NoError(err)
	assert.Equal(12, c)

	c, err = cs.GetCountDistinct(ctx, "test1", "test1", PeriodTotal, now)
	assert.NoError(err)
	assert.Equal(1, c)
}
