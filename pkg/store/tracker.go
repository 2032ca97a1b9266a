package store

import (
	"sync"
)

// Tracker notifies observers about modifications of the underlying table.
// Notifications are coalesced: an observer which has not yet consumed the
// previous notification does not receive another one.
type Tracker struct {
	mutex     sync.Mutex
	observers map[chan struct{}]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{observers: make(map[chan struct{}]struct{})}
}

// Observe registers a new observer. The returned func removes it.
func (t *Tracker) Observe() (ch <-chan struct{}, cancel func()) {
	c := make(chan struct{}, 1)
	t.mutex.Lock()
	t.observers[c] = struct{}{}
	t.mutex.Unlock()
	return c, func() {
		t.mutex.Lock()
		delete(t.observers, c)
		t.mutex.Unlock()
	}
}

// Invalidate signals a modification to all observers.
func (t *Tracker) Invalidate() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for c := range t.observers {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func (t *Tracker) numObservers() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.observers)
}
