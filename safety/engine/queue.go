package engine

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// One queued investigation request.
type InvestigationItem struct {
	CommunityID string
	UserID      string
	Reason      string
}

func (it InvestigationItem) key() string {
	return it.CommunityID + "/" + it.UserID
}

// In-process FIFO of profiles awaiting investigation. A profile is never queued twice: pushing an already-queued profile is a no-op.
type InvestigationQueue struct {
	mu    sync.Mutex
	items []InvestigationItem
	// membership index; lock-free reads for dedupe checks
	queued *xsync.MapOf[string, struct{}]
}

func NewInvestigationQueue() *InvestigationQueue {
	return &InvestigationQueue{
		queued: xsync.NewMapOf[string, struct{}](),
	}
}

// Appends the item if the profile isn't already queued. Returns true if it was added.
func (q *InvestigationQueue) Push(it InvestigationItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, loaded := q.queued.LoadOrStore(it.key(), struct{}{}); loaded {
		return false
	}
	q.items = append(q.items, it)
	return true
}

// Removes and returns up to n items, oldest first.
func (q *InvestigationQueue) PopN(n int) []InvestigationItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]InvestigationItem, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	for _, it := range out {
		q.queued.Delete(it.key())
	}
	return out
}

func (q *InvestigationQueue) Contains(communityID, userID string) bool {
	_, ok := q.queued.Load(communityID + "/" + userID)
	return ok
}

func (q *InvestigationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
