package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"portal/cmd/internal/message"
	"portal/cmd/internal/realtime"
	v1 "portal/shared/contracts/realtime/v1"
)

// RedirectSignIn is where both dashboards send a signed-out user.
const RedirectSignIn = "/signin"

const guestQueueSize = 32

var ErrNotMounted = errors.New("dashboard: guest view not mounted")

type Feed interface {
	List(ctx context.Context) ([]message.Message, error)
}

type Subscriber interface {
	Subscribe(topic string, queue int) *realtime.Subscription
}

type GuestDeps struct {
	Session Session
	Feed    Feed
	Hub     Subscriber
	Log     *slog.Logger

	// QueueSize bounds the pushed inserts waiting for Run. Zero means 32.
	QueueSize int
}

// Guest is the message feed view. It owns its subscription from Mount to
// Unmount and keeps the list current from pushed inserts alone.
type Guest struct {
	d   GuestDeps
	log *slog.Logger

	mu      sync.RWMutex
	msgs    []MessageView
	seen    map[string]struct{}
	sub     *realtime.Subscription
	changes chan struct{}
}

func NewGuest(d GuestDeps) *Guest {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	if d.QueueSize <= 0 {
		d.QueueSize = guestQueueSize
	}
	return &Guest{d: d, log: log, changes: make(chan struct{}, 1)}
}

// Load reads the feed once, newest first, without subscribing. It serves
// one-shot reads; live views use Mount and Run.
func (g *Guest) Load(ctx context.Context) ([]MessageView, error) {
	if !g.d.Session.Snapshot().Authenticated() {
		return nil, ErrUnauthenticated
	}
	msgs, err := g.d.Feed.List(ctx)
	if err != nil {
		return nil, err
	}
	return messageViews(msgs), nil
}

// Mount subscribes to inserts, then fetches the feed newest first.
func (g *Guest) Mount(ctx context.Context) error {
	if !g.d.Session.Snapshot().Authenticated() {
		return ErrUnauthenticated
	}

	g.mu.Lock()
	if g.sub != nil {
		g.mu.Unlock()
		return nil
	}
	sub := g.d.Hub.Subscribe(realtime.TopicMessages, g.d.QueueSize)
	g.sub = sub
	g.mu.Unlock()

	msgs, err := g.d.Feed.List(ctx)
	if err != nil {
		g.Unmount()
		return err
	}

	views := messageViews(msgs)
	seen := make(map[string]struct{}, len(views))
	for _, v := range views {
		seen[v.ID] = struct{}{}
	}

	g.mu.Lock()
	g.msgs = views
	g.seen = seen
	g.mu.Unlock()
	g.notify()
	return nil
}

// Run drains the subscription until ctx ends or the view is unmounted.
func (g *Guest) Run(ctx context.Context) error {
	g.mu.RLock()
	sub := g.sub
	g.mu.RUnlock()
	if sub == nil {
		return ErrNotMounted
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case ev := <-sub.C():
			m, ok := ev.Data.(message.Message)
			if !ok || ev.Type != realtime.EventMessageInserted {
				continue
			}
			if g.prepend(MessageViewOf(m)) {
				g.notify()
			}
		}
	}
}

func (g *Guest) prepend(v MessageView) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.seen[v.ID]; dup {
		return false
	}
	if g.seen == nil {
		g.seen = make(map[string]struct{})
	}
	g.seen[v.ID] = struct{}{}
	g.msgs = append([]MessageView{v}, g.msgs...)
	return true
}

// Messages returns a copy of the current list, newest first.
func (g *Guest) Messages() []MessageView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]MessageView, len(g.msgs))
	copy(out, g.msgs)
	return out
}

// FeedMessages is Messages in wire form. Once mounted the list only grows at
// the front, so a reader that remembers the previous length can tell which
// entries are new.
func (g *Guest) FeedMessages() []v1.FeedMessage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]v1.FeedMessage, 0, len(g.msgs))
	for _, m := range g.msgs {
		out = append(out, v1.FeedMessage{ID: m.ID, Content: m.Content, CreatedBy: m.CreatedBy, CreatedAt: m.CreatedAt})
	}
	return out
}

// Changes fires after the list changes. Notifications coalesce.
func (g *Guest) Changes() <-chan struct{} { return g.changes }

// Unmount releases the subscription (idempotent).
func (g *Guest) Unmount() {
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()
	sub.Unsubscribe()
}

// SignOut tears the view down, ends the session and redirects to sign-in.
func (g *Guest) SignOut(ctx context.Context) (string, error) {
	g.Unmount()
	return RedirectSignIn, g.d.Session.SignOut(ctx)
}

func (g *Guest) notify() {
	select {
	case g.changes <- struct{}{}:
	default:
	}
}
