package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// TopicMessages carries message.inserted events.
const TopicMessages = "messages"

// EventMessageInserted is published once per inserted message.
const EventMessageInserted = "message.inserted"

const defaultQueueSize = 64

// Event is one change notification on a topic.
type Event struct {
	Topic string
	Type  string
	At    time.Time
	Data  any
}

// Hub is the in-process change feed. Topics are created on first use.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		topics: make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe registers a subscriber on topic with a bounded queue.
// The caller owns the subscription and must Unsubscribe it.
func (h *Hub) Subscribe(topic string, queue int) *Subscription {
	if queue <= 0 {
		queue = defaultQueueSize
	}

	h.mu.Lock()
	h.nextID++
	sub := &Subscription{
		hub:   h,
		id:    h.nextID,
		topic: topic,
		ch:    make(chan Event, queue),
		done:  make(chan struct{}),
	}
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[uint64]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	n := len(subs)
	h.mu.Unlock()

	subscribers.WithLabelValues(topic).Set(float64(n))
	h.log.Debug("realtime.subscribe", "topic", topic, "subscribers", n)
	return sub
}

// Publish fans ev out to every subscriber of topic and returns how many received it.
// It never blocks: a subscriber with a full queue misses the event.
func (h *Hub) Publish(topic string, ev Event) int {
	ev.Topic = topic
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	published.WithLabelValues(topic).Inc()

	delivered := 0
	for _, s := range h.topics[topic] {
		select {
		case <-s.done:
			continue
		default:
		}

		select {
		case s.ch <- ev:
			delivered++
		default:
			dropped.WithLabelValues(topic).Inc()
			h.log.Warn("realtime.publish.drop", "topic", topic, "type", ev.Type, "subscription", s.id)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	subs := h.topics[s.topic]
	delete(subs, s.id)
	n := len(subs)
	if n == 0 {
		delete(h.topics, s.topic)
	}
	h.mu.Unlock()

	subscribers.WithLabelValues(s.topic).Set(float64(n))
}
