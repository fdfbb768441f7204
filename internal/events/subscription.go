package events

import (
	"context"
	"sync"
	"time"

	"github.com/use-go/onvif-proxy/internal/camera"
)

// State of a subscription.
type State int

const (
	Active State = iota
	Expired
	Terminated
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// native is the camera-side subscription a proxy subscription wraps.
type native struct {
	Address string
	Expires time.Time
}

// Subscription is one emulated PullPoint subscription.
type Subscription struct {
	ID       string
	CameraID string
	Address  string // proxy address handed to the NVR
	Smart    bool
	Created  time.Time

	cam   *camera.Descriptor
	queue *Queue

	mu      sync.Mutex
	expires time.Time
	state   State
	handle  native
	last    map[string]Event // latest event per source, for synchronization points

	cancel context.CancelFunc
	done   chan struct{}
}

// Expires returns the current expiry.
func (s *Subscription) Expires() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires
}

// State returns the state at now, moving an active subscription past its
// expiry to Expired.
func (s *Subscription) State(now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Active && !now.Before(s.expires) {
		s.state = Expired
	}
	return s.state
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

func (s *Subscription) renew(expires time.Time) {
	s.mu.Lock()
	s.expires = expires
	s.mu.Unlock()
}

// terminate marks the subscription terminated and reports whether it was
// still running.
func (s *Subscription) terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Terminated {
		return false
	}
	s.state = Terminated
	return true
}

func (s *Subscription) nativeHandle() native {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Subscription) setNative(h native) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// deliver queues ev and remembers it as the latest state of its source.
func (s *Subscription) deliver(ev Event) (dropped bool) {
	s.mu.Lock()
	if s.last == nil {
		s.last = map[string]Event{}
	}
	s.last[ev.sourceKey()] = ev
	s.mu.Unlock()
	return s.queue.Push(ev)
}

// synchronize re-queues the latest known state of every source as
// Initialized events.
func (s *Subscription) synchronize(now time.Time) int {
	s.mu.Lock()
	pending := make([]Event, 0, len(s.last))
	for _, ev := range s.last {
		ev.Operation = OperationInitialized
		ev.Time = now.UTC()
		pending = append(pending, ev)
	}
	s.mu.Unlock()

	for _, ev := range pending {
		s.queue.Push(ev)
	}
	return len(pending)
}

// stop cancels the poll task and waits for it to return.
func (s *Subscription) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.queue.Close()
	if s.done != nil {
		<-s.done
	}
}
