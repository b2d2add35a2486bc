package engine

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bluesky-social/sentinel/safety/countstore"
	"github.com/bluesky-social/sentinel/safety/gateway"
	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"
)

// Manually-advanced clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Engine wired to a temporary sqlite store, the mock gateway and judge, an alert recorder, and a fake clock.
type TestFixture struct {
	Engine   *Engine
	Store    *store.Store
	Gateway  *gateway.MockGateway
	Judge    *oracle.MockJudge
	Alerts   *notify.Recorder
	Counters *countstore.MemCountStore
	Clock    *FakeClock
}

func EngineTestFixture(t testing.TB) *TestFixture {
	st := store.TestStore(t)
	gw := gateway.NewMockGateway()
	judge := &oracle.MockJudge{}
	alerts := &notify.Recorder{}
	counters := countstore.NewMemCountStore()
	clock := NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	eng, err := NewEngine(Config{
		Logger:   slog.Default(),
		Policy:   DefaultPolicy(),
		Store:    st,
		Judge:    judge,
		Gateway:  gw,
		Notifier: alerts,
		Counters: counters,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &TestFixture{
		Engine:   eng,
		Store:    st,
		Gateway:  gw,
		Judge:    judge,
		Alerts:   alerts,
		Counters: counters,
		Clock:    clock,
	}
}
