package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultDisplayName is used when neither metadata nor the email yields a name.
const DefaultDisplayName = "User"

// Subject is the authenticated user a profile is resolved for.
type Subject struct {
	UserID   string
	Email    string
	FullName *string // account metadata captured at sign-up
}

// Warning is a non-fatal failure on the resolution path. The session stays valid.
type Warning struct {
	Step string
	Err  error
}

func (w Warning) Error() string { return fmt.Sprintf("profile %s: %v", w.Step, w.Err) }
func (w Warning) Unwrap() error { return w.Err }

// Resolution is the outcome of Resolver.Resolve.
type Resolution struct {
	Profile  *Profile
	State    State
	Trace    []State
	Warnings []Warning
}

// Resolver guarantees an authenticated user is never left without a profile
// when the store allows one to be created.
type Resolver struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

type ResolverOption func(*Resolver)

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewResolver(store Store, log *slog.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve runs primary lookup, fallback lookup, provisioning and re-read in that order.
// It never returns an error; failures are reported as warnings on the Resolution.
func (r *Resolver) Resolve(ctx context.Context, sub Subject) Resolution {
	m := NewMachine()
	var res Resolution

	finish := func(p *Profile) Resolution {
		res.Profile = p
		res.State = m.State()
		res.Trace = m.Trace()
		return res
	}
	warn := func(step string, err error) {
		res.Warnings = append(res.Warnings, Warning{Step: step, Err: err})
		r.log.Warn("profile.resolve.warn", "step", step, "user_id", sub.UserID, "err", err)
	}
	ready := func(p Profile) Resolution {
		if err := m.To(StateReady); err != nil {
			warn("transition", err)
			return finish(nil)
		}
		return finish(&p)
	}

	if strings.TrimSpace(sub.UserID) == "" || r.store == nil {
		return finish(nil)
	}

	// Primary lookup.
	p, err := r.store.Get(ctx, sub.UserID)
	if err == nil {
		return ready(p)
	}
	if !errors.Is(err, ErrNotFound) {
		warn("lookup", err)
	}
	_ = m.To(StateMissing)

	// Fallback lookup.
	p, err = r.store.Get(ctx, sub.UserID)
	if err == nil {
		return ready(p)
	}
	if !errors.Is(err, ErrNotFound) {
		warn("fallback", err)
	}

	// Provision a default guest profile.
	_ = m.To(StateProvisioning)
	now := r.now()
	name := DefaultName(sub)
	_, err = r.store.Insert(ctx, Profile{
		ID:        sub.UserID,
		FullName:  &name,
		Role:      RoleGuest,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		// A concurrent writer winning the insert is fine; the re-read picks its row up.
		warn("provision", err)
		_ = m.To(StateMissing)
		return finish(nil)
	}

	p, err = r.store.Get(ctx, sub.UserID)
	if err != nil {
		warn("reread", err)
		_ = m.To(StateMissing)
		return finish(nil)
	}
	r.log.Info("profile.provisioned", "user_id", sub.UserID)
	return ready(p)
}

// DefaultName picks the display name for a provisioned profile:
// metadata full name, then the email local-part, then DefaultDisplayName.
func DefaultName(sub Subject) string {
	if sub.FullName != nil {
		if s := strings.TrimSpace(*sub.FullName); s != "" {
			return s
		}
	}
	email := strings.TrimSpace(sub.Email)
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	if email != "" && !strings.Contains(email, "@") {
		return email
	}
	return DefaultDisplayName
}
