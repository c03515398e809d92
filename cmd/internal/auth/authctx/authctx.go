// Package authctx holds "who is signed in and what may they do" for one client:
// an HTTP request or a realtime connection.
//
// A Context is created with New, loaded with Init and released with Close.
// Nothing about it is global; every view that needs it receives it explicitly.
package authctx

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"portal/cmd/identity"
	"portal/cmd/internal/auth/session"
	"portal/cmd/internal/profile"
)

// Sessions is the subset of session.Service the context delegates to.
type Sessions interface {
	SignUp(ctx context.Context, email, password, displayName string) (identity.User, error)
	SignIn(ctx context.Context, email, password string, dev session.DeviceContext) (session.Issued, error)
	SignOut(ctx context.Context, sessionID string) error
	Current(ctx context.Context, accessToken string) (session.Active, error)
	Subscribe() *session.Subscription
}

// Resolver resolves the profile of a signed-in user.
type Resolver interface {
	Resolve(ctx context.Context, sub profile.Subject) profile.Resolution
}

type Deps struct {
	Sessions Sessions
	Profiles Resolver
	Log      *slog.Logger
}

type Options struct {
	// Watch starts a goroutine that follows session-change notifications
	// between Init and Close. Short-lived request contexts leave it off.
	Watch bool
}

// State is a point-in-time copy of the context.
type State struct {
	Loading      bool
	Session      *session.Row
	User         *identity.User
	Profile      *profile.Profile
	ProfileState profile.State
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool { return s.Session != nil && s.User != nil }

// IsAdmin is true only for a resolved admin profile.
func (s State) IsAdmin() bool { return s.Authenticated() && s.Profile.IsAdmin() }

var ErrClosed = errors.New("authctx: closed")

// Context is the session context of one client.
type Context struct {
	deps Deps
	opts Options
	log  *slog.Logger

	mu       sync.RWMutex
	st       State
	token    string
	warnings []profile.Warning
	closed   bool

	changes chan struct{}

	sub       *session.Subscription
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(deps Deps, opts Options) (*Context, error) {
	if deps.Sessions == nil || deps.Profiles == nil {
		return nil, errors.New("authctx: missing dependency")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		deps:    deps,
		opts:    opts,
		log:     log,
		st:      State{Loading: true, ProfileState: profile.StateUnresolved},
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}, nil
}

// Init loads the session behind accessToken (if any) and its profile.
// A missing, expired or revoked session leaves the context signed out without error.
func (c *Context) Init(ctx context.Context, accessToken string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if c.opts.Watch {
		c.startWatcher()
	}

	if accessToken == "" {
		c.clear()
		return nil
	}

	act, err := c.deps.Sessions.Current(ctx, accessToken)
	if err != nil {
		c.clear()
		if session.IsUnauthenticated(err) {
			return nil
		}
		return err
	}

	c.adopt(ctx, act, accessToken)
	return nil
}

// SignIn delegates to the session service. Its error is returned unchanged.
func (c *Context) SignIn(ctx context.Context, email, password string, dev session.DeviceContext) (session.Issued, error) {
	iss, err := c.deps.Sessions.SignIn(ctx, email, password, dev)
	if err != nil {
		return session.Issued{}, err
	}
	act, err := c.deps.Sessions.Current(ctx, iss.AccessToken)
	if err != nil {
		return session.Issued{}, err
	}
	c.adopt(ctx, act, iss.AccessToken)
	return iss, nil
}

// SignUp delegates to the session service; displayName becomes profile metadata.
func (c *Context) SignUp(ctx context.Context, email, password, displayName string) (identity.User, error) {
	return c.deps.Sessions.SignUp(ctx, email, password, displayName)
}

// SignOut revokes the current session and clears local state even if revocation fails.
func (c *Context) SignOut(ctx context.Context) error {
	c.mu.RLock()
	var sid string
	if c.st.Session != nil {
		sid = c.st.Session.ID
	}
	c.mu.RUnlock()

	var err error
	if sid != "" {
		err = c.deps.Sessions.SignOut(ctx, sid)
	}
	c.clear()
	return err
}

// Snapshot returns a copy of the current state.
func (c *Context) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := c.st
	if st.Session != nil {
		s := *st.Session
		st.Session = &s
	}
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	if st.Profile != nil {
		p := *st.Profile
		st.Profile = &p
	}
	return st
}

// IsAdmin fails closed: unresolved, missing and non-admin profiles are all false.
func (c *Context) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st.IsAdmin()
}

// AccessToken returns the token the context was loaded or signed in with.
func (c *Context) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Changes receives a value whenever the cached state changes. Bursts coalesce.
func (c *Context) Changes() <-chan struct{} { return c.changes }

// Warnings returns the non-fatal profile-resolution warnings of the last resolution.
func (c *Context) Warnings() []profile.Warning {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]profile.Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Close stops the watcher (idempotent).
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stop)
		if c.sub != nil {
			c.sub.Unsubscribe()
		}
		c.wg.Wait()
	})
}

func (c *Context) adopt(ctx context.Context, act session.Active, token string) {
	res := c.deps.Profiles.Resolve(ctx, profile.Subject{
		UserID:   act.User.ID,
		Email:    act.User.Email,
		FullName: act.User.FullName,
	})

	row := act.Session
	user := act.User

	c.mu.Lock()
	c.st = State{
		Session:      &row,
		User:         &user,
		Profile:      res.Profile,
		ProfileState: res.State,
	}
	c.token = token
	c.warnings = res.Warnings
	c.mu.Unlock()

	c.notify()
}

func (c *Context) clear() {
	c.mu.Lock()
	c.st = State{ProfileState: profile.StateUnresolved}
	c.token = ""
	c.warnings = nil
	c.mu.Unlock()

	c.notify()
}

func (c *Context) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
