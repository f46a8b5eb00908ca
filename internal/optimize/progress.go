package optimize

import (
	"sync"
)

// Update is one progress notification.
type Update struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	Done      bool `json:"done"`
}

// Tracker counts completed trials and fans updates out to subscribers.
// Slow subscribers miss intermediate updates rather than blocking the
// worker pool.
type Tracker struct {
	mu        sync.Mutex
	completed int
	total     int
	done      bool
	subs      map[chan Update]struct{}
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		subs: make(map[chan Update]struct{}),
	}
}

// Start resets the counters for a new job.
func (t *Tracker) Start(total int) {
	t.mu.Lock()
	t.completed = 0
	t.total = total
	t.done = false
	t.mu.Unlock()
	t.publish()
}

// Increment records one completed trial.
func (t *Tracker) Increment() {
	t.mu.Lock()
	t.completed++
	t.mu.Unlock()
	t.publish()
}

// Finish marks the job complete.
func (t *Tracker) Finish() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
	t.publish()
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Update{Completed: t.completed, Total: t.total, Done: t.done}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release it.
func (t *Tracker) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

func (t *Tracker) publish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	update := Update{Completed: t.completed, Total: t.total, Done: t.done}
	for ch := range t.subs {
		select {
		case ch <- update:
		default:
		}
	}
}
