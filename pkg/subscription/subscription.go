package subscription

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// DefaultMaxPending is the number of undelivered events a subscription
// holds before it starts dropping new ones.
const DefaultMaxPending = 4096

// ErrQueueFull is passed to a handler that fell so far behind its feed that
// events were dropped. The subscription stays registered.
var ErrQueueFull = errors.New("subscription queue full: events dropped")

// Handle identifies a subscription. The zero Handle is never issued.
type Handle uint64

// Handler receives either an event or an error, never both. A non-nil error
// passed by Terminate is final: the subscription is no longer registered.
// A handler that cannot keep up loses events once DefaultMaxPending are
// queued, and is told so once per backlog with ErrQueueFull.
type Handler func(ev wire.Event, err error)

// item is one queued handler invocation.
type item struct {
	ev       wire.Event
	err      error
	terminal bool
}

// Subscription is one registered subscription and its mailbox.
type Subscription struct {
	// ID is the unique subscription handle.
	ID Handle

	// Scope is the feed the subscription listens on.
	Scope wire.Scope

	// Prefix filters event names; "" matches everything.
	Prefix string

	// Created is when the subscription was registered.
	Created time.Time

	handler Handler

	mu         sync.Mutex
	queue      []item
	maxPending int
	overflowed bool
	draining   bool
	active     bool
	terminated bool

	// slot is the index in the registry's per-scope list.
	slot int

	delivered atomic.Int64
	errored   atomic.Int64
	dropped   atomic.Int64
}

// NewSubscription creates an active subscription.
func NewSubscription(id Handle, scope wire.Scope, prefix string, handler Handler) *Subscription {
	return &Subscription{
		ID:      id,
		Scope:   scope,
		Prefix:  prefix,
		Created: time.Now(),
		handler:    handler,
		maxPending: DefaultMaxPending,
		active:     true,
	}
}

// SetMaxPending changes how many events may wait for the handler.
// n <= 0 restores DefaultMaxPending.
func (s *Subscription) SetMaxPending(n int) {
	if n <= 0 {
		n = DefaultMaxPending
	}
	s.mu.Lock()
	s.maxPending = n
	s.mu.Unlock()
}

// Matches reports whether an event with the given name passes the prefix filter.
func (s *Subscription) Matches(name string) bool {
	return strings.HasPrefix(name, s.Prefix)
}

// IsActive returns whether the subscription still accepts deliveries.
func (s *Subscription) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Deactivate stops further deliveries and drops queued events.
// A pending Terminate still runs.
func (s *Subscription) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false

	kept := s.queue[:0]
	for _, it := range s.queue {
		if it.terminal {
			kept = append(kept, it)
		}
	}
	clear(s.queue[len(kept):])
	s.queue = kept
}

// Deliver queues an event. Returns false if the subscription is inactive
// or its queue is full, in which case the event is dropped.
func (s *Subscription) Deliver(ev wire.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	if len(s.queue) >= s.maxPending {
		s.dropped.Add(1)
		if !s.overflowed {
			s.overflowed = true
			s.pushLocked(item{err: ErrQueueFull})
		}
		return false
	}
	s.pushLocked(item{ev: ev})
	return true
}

// Fail queues a non-terminal error. Returns false if the subscription is inactive.
func (s *Subscription) Fail(err error) bool {
	return s.enqueue(item{err: err})
}

// Terminate queues a final error and deactivates the subscription. The
// handler sees err exactly once, after items queued before the call.
// Returns false if the subscription was already terminated.
func (s *Subscription) Terminate(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return false
	}
	s.terminated = true
	s.active = false
	s.pushLocked(item{err: err, terminal: true})
	return true
}

// Pending returns the number of queued handler invocations.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Delivered returns how many events the handler has been given.
func (s *Subscription) Delivered() int64 {
	return s.delivered.Load()
}

// Errors returns how many errors the handler has been given.
func (s *Subscription) Errors() int64 {
	return s.errored.Load()
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) enqueue(it item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.pushLocked(it)
	return true
}

func (s *Subscription) pushLocked(it item) {
	s.queue = append(s.queue, it)
	if !s.draining {
		s.draining = true
		go s.drain()
	}
}

// drain runs queued items until the mailbox is empty.
func (s *Subscription) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.queue = nil
			s.mu.Unlock()
			return
		}
		it := s.queue[0]
		s.queue[0] = item{}
		s.queue = s.queue[1:]
		if it.err == ErrQueueFull {
			s.overflowed = false
		}
		s.mu.Unlock()

		if s.handler == nil {
			continue
		}
		if it.err != nil {
			s.errored.Add(1)
			s.handler(wire.Event{}, it.err)
			continue
		}
		s.delivered.Add(1)
		s.handler(it.ev, nil)
	}
}
