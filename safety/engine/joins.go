package engine

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// upper bound on join timestamps retained per community
const joinRingSize = 256

type joinRing struct {
	at    [joinRingSize]time.Time
	start int
	size  int
}

func (r *joinRing) prune(cutoff time.Time) {
	for r.size > 0 && r.at[r.start].Before(cutoff) {
		r.start = (r.start + 1) % joinRingSize
		r.size--
	}
}

func (r *joinRing) push(t time.Time) {
	if r.size == joinRingSize {
		r.start = (r.start + 1) % joinRingSize
		r.size--
	}
	r.at[(r.start+r.size)%joinRingSize] = t
	r.size++
}

// Trailing window of membership joins, per community. Bounded in communities (LRU with idle expiry) and in joins per community.
type JoinWindow struct {
	span time.Duration
	mu   sync.Mutex
	lru  *expirable.LRU[string, *joinRing]
}

func NewJoinWindow(span time.Duration, maxCommunities int) *JoinWindow {
	return &JoinWindow{
		span: span,
		lru:  expirable.NewLRU[string, *joinRing](maxCommunities, nil, span),
	}
}

// Records a join and returns the number of joins (including this one) within the window.
func (jw *JoinWindow) Record(communityID string, at time.Time) int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	r, ok := jw.lru.Get(communityID)
	if !ok {
		r = &joinRing{}
	}
	r.prune(at.Add(-jw.span))
	r.push(at)
	jw.lru.Add(communityID, r)
	return r.size
}

// Number of joins within the window ending at now.
func (jw *JoinWindow) Count(communityID string, now time.Time) int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	r, ok := jw.lru.Peek(communityID)
	if !ok {
		return 0
	}
	r.prune(now.Add(-jw.span))
	return r.size
}

// Communities with any join still inside the window.
func (jw *JoinWindow) Communities() []string {
	return jw.lru.Keys()
}
