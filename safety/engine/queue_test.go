package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvestigationQueue(t *testing.T) {
	assert := assert.New(t)
	q := NewInvestigationQueue()

	assert.True(q.Push(InvestigationItem{CommunityID: "c1", UserID: "a", Reason: "one"}))
	assert.True(q.Push(InvestigationItem{CommunityID: "c1", UserID: "b", Reason: "two"}))
	assert.True(q.Push(InvestigationItem{CommunityID: "c2", UserID: "a", Reason: "three"}))
	assert.False(q.Push(InvestigationItem{CommunityID: "c1", UserID: "a", Reason: "dupe"}))
	assert.Equal(3, q.Len())
	assert.True(q.Contains("c1", "a"))

	items := q.PopN(2)
	assert.Len(items, 2)
	assert.Equal("one", items[0].Reason)
	assert.Equal("two", items[1].Reason)
	assert.False(q.Contains("c1", "a"))
	assert.Equal(1, q.Len())

	// popped items may be queued again
	assert.True(q.Push(InvestigationItem{CommunityID: "c1", UserID: "a", Reason: "again"}))
	items = q.PopN(10)
	assert.Len(items, 2)
	assert.Equal("three", items[0].Reason)
	assert.Empty(q.PopN(1))
}

func TestJoinWindow(t *testing.T) {
	assert := assert.New(t)
	jw := NewJoinWindow(time.Minute, 10)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		assert.Equal(i+1, jw.Record("c1", start.Add(time.Duration(i)*10*time.Second)))
	}
	assert.Equal(1, jw.Record("c2", start))
	assert.ElementsMatch([]string{"c1", "c2"}, jw.Communities())

	// joins at 0s, 10s fall out of the window ending at 70s
	assert.Equal(3, jw.Count("c1", start.Add(70*time.Second)))
	assert.Equal(0, jw.Count("c1", start.Add(10*time.Minute)))
	assert.Equal(0, jw.Count("unknown", start))
}

func TestJoinWindowBounded(t *testing.T) {
	assert := assert.New(t)
	jw := NewJoinWindow(time.Hour, 10)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	n := 0
	for i := 0; i < joinRingSize+50; i++ {
		n = jw.Record("c1", start.Add(time.Duration(i)*time.Millisecond))
	}
	assert.Equal(joinRingSize, n)
}
