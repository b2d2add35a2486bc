package classifier

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpamWindowBounded(t *testing.T) {
	assert := assert.New(t)
	sw := NewSpamWindow(2*time.Minute, 5)
	now := time.Now()

	for i := 0; i < 20; i++ {
		sw.Observe(fmt.Sprintf("user%d", i), now, 1, time.Minute)
	}
	assert.Equal(5, sw.Len())

	// ring buffer caps per-key history
	for i := 0; i < windowRingSize*2; i++ {
		obs := sw.Observe("busy", now, 7, time.Minute)
		assert.True(obs.Recent <= windowRingSize)
	}
	obs := sw.Observe("busy", now, 7, time.Minute)
	assert.Equal(windowRingSize, obs.Recent)
	assert.Equal(windowRingSize, obs.Duplicates)
}

func TestSpamWindowPrune(t *testing.T) {
	assert := assert.New(t)
	sw := NewSpamWindow(2*time.Minute, 100)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sw.Observe("u", start, 1, time.Minute)
	sw.Observe("u", start.Add(30*time.Second), 1, time.Minute)
	obs := sw.Observe("u", start.Add(90*time.Second), 1, time.Minute)
	assert.Equal(2, obs.Recent)
	assert.Equal(3, obs.Duplicates)

	obs = sw.Observe("u", start.Add(125*time.Second), 1, time.Minute)
	// first entry (at 0s) is now out of the two minute window
	assert.Equal(3, obs.Duplicates)

	sw.Forget("u")
	obs = sw.Observe("u", start.Add(126*time.Second), 1, time.Minute)
	assert.Equal(1, obs.Duplicates)
}

func TestSpamWindowEmptyText(t *testing.T) {
	assert := assert.New(t)
	sw := NewSpamWindow(2*time.Minute, 10)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var obs Observation
	for i := 0; i < 4; i++ {
		obs = sw.Observe("u", start.Add(time.Duration(i)*time.Second), hashOfText(""), time.Minute)
	}
	assert.Equal(4, obs.Recent)
	assert.Equal(0, obs.Duplicates)
	assert.Equal(uint64(0), hashOfText(" \t "))
	assert.NotEqual(uint64(0), hashOfText("hi"))
}
