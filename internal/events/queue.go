package events

import (
	"context"
	"sync"
	"time"
)

// Queue is a bounded FIFO of translated events. When full, the oldest
// event is discarded to make room. Waiters are woken through a channel
// that is closed and replaced on every push, so a long poll never holds
// the lock while it waits.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	limit  int
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewQueue creates a queue holding at most limit events.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{
		limit:  limit,
		wake:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Push appends e and reports whether an older event was dropped.
func (q *Queue) Push(e Event) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		dropped = true
	}
	q.items = append(q.items, e)
	close(q.wake)
	q.wake = make(chan struct{})
	return dropped
}

// Pop removes and returns up to max events.
func (q *Queue) Pop(max int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop(max)
}

func (q *Queue) pop(max int) []Event {
	if len(q.items) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.items) {
		max = len(q.items)
	}
	out := make([]Event, max)
	copy(out, q.items)
	q.items = append(q.items[:0], q.items[max:]...)
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait returns up to max events, waiting up to timeout for the first one.
// It returns early with nothing when ctx is done or the queue is closed.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration, max int) []Event {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if out := q.pop(max); out != nil {
			q.mu.Unlock()
			return out
		}
		wake := q.wake
		q.mu.Unlock()

		if expired == nil {
			return nil
		}
		select {
		case <-wake:
		case <-expired:
			return nil
		case <-ctx.Done():
			return nil
		case <-q.closed:
			return nil
		}
	}
}

// Close releases every current and future waiter.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.closed) })
}
