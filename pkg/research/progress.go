package research

import "sync"

// Tracker owns the single Progress record of one research invocation and
// forwards every change to an optional observer.
type Tracker struct {
	mu       sync.Mutex
	state    Progress
	observer func(Progress)
	closed   bool
}

func NewTracker(initial Progress, observer func(Progress)) *Tracker {
	return &Tracker{state: initial, observer: observer}
}

// Update applies fn to the shared record and notifies the observer with a
// full copy. The observer runs under the tracker lock, so updates are seen
// in the order they were made.
func (t *Tracker) Update(fn func(p *Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	fn(&t.state)
	if t.observer != nil {
		t.observer(t.state)
	}
}

func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close stops notifications. Later updates are dropped.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
