package realtime

import "sync"

// Subscription is one subscriber's view of a topic.
//
// The event channel is never closed by the hub, so a publisher racing with
// Unsubscribe cannot panic. Readers select on Done as well.
type Subscription struct {
	hub   *Hub
	id    uint64
	topic string

	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// C delivers events in publish order.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe removes the subscription from the hub (idempotent).
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		// Membership removal first, so Publish stops selecting this subscriber.
		s.hub.remove(s)
		close(s.done)
	})
}
