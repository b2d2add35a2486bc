package classifier

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maximum entries retained per user; older entries fall out of the ring regardless of age
const windowRingSize = 64

type windowEntry struct {
	at   time.Time
	hash uint64
}

// fixed-capacity ring of recent messages for a single user
type userWindow struct {
	entries [windowRingSize]windowEntry
	start   int
	size    int
}

func (w *userWindow) prune(cutoff time.Time) {
	for w.size > 0 && w.entries[w.start].at.Before(cutoff) {
		w.start = (w.start + 1) % windowRingSize
		w.size--
	}
}

func (w *userWindow) push(e windowEntry) {
	if w.size == windowRingSize {
		w.start = (w.start + 1) % windowRingSize
		w.size--
	}
	w.entries[(w.start+w.size)%windowRingSize] = e
	w.size++
}

// Result of recording a message in the window.
type Observation struct {
	// messages (including this one) within the flood window
	Recent int
	// messages (including this one) in the full window with identical normalized text
	Duplicates int
}

// Sliding time window of recent messages, keyed per user.
//
// Memory is bounded both per key (ring buffer) and in number of keys (LRU with idle expiry).
type SpamWindow struct {
	span time.Duration
	mu   sync.Mutex
	lru  *expirable.LRU[string, *userWindow]
}

func NewSpamWindow(span time.Duration, maxKeys int) *SpamWindow {
	if maxKeys <= 0 {
		maxKeys = 10_000
	}
	return &SpamWindow{
		span: span,
		lru:  expirable.NewLRU[string, *userWindow](maxKeys, nil, span),
	}
}

// Records a message and returns counts over the window. Entries older than the window span are dropped on every call.
//
// A zero hash marks a message without text: it counts towards Recent, but never as a duplicate.
func (sw *SpamWindow) Observe(key string, at time.Time, hash uint64, recentSpan time.Duration) Observation {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	w, ok := sw.lru.Get(key)
	if !ok {
		w = &userWindow{}
	}
	w.prune(at.Add(-sw.span))
	w.push(windowEntry{at: at, hash: hash})
	// re-adding refreshes the idle expiry
	sw.lru.Add(key, w)

	obs := Observation{}
	recentCutoff := at.Add(-recentSpan)
	for i := 0; i < w.size; i++ {
		e := w.entries[(w.start+i)%windowRingSize]
		if !e.at.Before(recentCutoff) {
			obs.Recent++
		}
		if hash != 0 && e.hash == hash {
			obs.Duplicates++
		}
	}
	return obs
}

func (sw *SpamWindow) Forget(key string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.lru.Remove(key)
}

func (sw *SpamWindow) Len() int {
	return sw.lru.Len()
}
