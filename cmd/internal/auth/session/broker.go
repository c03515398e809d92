package session

import (
	"sync"
	"time"
)

// EventKind names a session change.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// Event is one session-change notification.
type Event struct {
	Kind      EventKind
	UserID    string
	SessionID string
	At        time.Time
}

// Broker fans session changes out to subscribers.
//
// Publish never blocks: a subscriber whose queue is full misses the event.
// Subscriber channels are never closed by the broker; watch Done instead.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscription is one listener on a Broker.
type Subscription struct {
	b    *Broker
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// Subscribe registers a listener with a bounded queue.
func (b *Broker) Subscribe(queue int) *Subscription {
	if queue <= 0 {
		queue = 16
	}
	s := &Subscription{
		b:    b,
		ch:   make(chan Event, queue),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Unsubscribe removes the listener (idempotent).
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.done)
	})
}

func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
