package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"portal/cmd/identity"
	"portal/cmd/internal/auth/authctx"
	"portal/cmd/internal/auth/session"
	"portal/cmd/internal/invite"
	"portal/cmd/internal/message"
	"portal/cmd/internal/profile"
	"portal/cmd/internal/realtime"
	"portal/cmd/security/password"
)

type fixture struct {
	sessions *session.Service
	users    *identity.MemoryStore
	profiles *profile.MemoryStore
	resolver *profile.Resolver
	hub      *realtime.Hub
	messages *message.Service
	invites  *invite.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
	tokens, err := session.NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	profiles := profile.NewMemoryStore()
	users := identity.NewMemoryStore(profiles, password.Cheap())
	hub := realtime.NewHub(nil)

	invites, err := invite.NewService(invite.NewMemoryStore(users), invite.WithBaseURL("https://portal.example.com"))
	if err != nil {
		t.Fatalf("invite service: %v", err)
	}

	return fixture{
		sessions: session.NewService(cfg, session.NewMemoryStore(), users, tokens),
		users:    users,
		profiles: profiles,
		resolver: profile.NewResolver(profiles, nil),
		hub:      hub,
		messages: message.NewService(message.NewMemoryStore(), hub),
		invites:  invites,
	}
}

// contextFor signs a new user in with role and returns its initialized session context.
func (f fixture) contextFor(t *testing.T, email string, role profile.Role) *authctx.Context {
	t.Helper()
	ctx := context.Background()

	c, err := authctx.New(authctx.Deps{Sessions: f.sessions, Profiles: f.resolver}, authctx.Options{})
	if err != nil {
		t.Fatalf("authctx: %v", err)
	}
	t.Cleanup(c.Close)

	token := ""
	if email != "" {
		name := "Someone"
		if _, err := f.users.CreateUser(ctx, identity.CreateUserInput{Email: email, Password: "secret1", FullName: &name, Role: role}); err != nil {
			t.Fatalf("create user: %v", err)
		}
		iss, err := f.sessions.SignIn(ctx, email, "secret1", session.DeviceContext{})
		if err != nil {
			t.Fatalf("sign in: %v", err)
		}
		token = iss.AccessToken
	}
	if err := c.Init(ctx, token); err != nil {
		t.Fatalf("init: %v", err)
	}
	return c
}

func (f fixture) admin(sess Session) *Admin {
	return NewAdmin(AdminDeps{
		Session:     sess,
		Profiles:    f.profiles,
		Invitations: f.invites,
		Messages:    f.messages,
	})
}

type countingFeed struct {
	Feed
	calls atomic.Int32
}

func (c *countingFeed) List(ctx context.Context) ([]message.Message, error) {
	c.calls.Add(1)
	return c.Feed.List(ctx)
}

func TestRoute(t *testing.T) {
	t.Parallel()

	row := &session.Row{ID: "s"}
	user := &identity.User{ID: "u"}
	admin := &profile.Profile{Role: profile.RoleAdmin}
	guest := &profile.Profile{Role: profile.RoleGuest}

	tests := []struct {
		name       string
		st         authctx.State
		showSignIn bool
		want       View
	}{
		{"loading", authctx.State{Loading: true}, false, ViewLoading},
		{"loading_wins_over_signin", authctx.State{Loading: true}, true, ViewLoading},
		{"admin", authctx.State{Session: row, User: user, Profile: admin}, false, ViewAdmin},
		{"guest", authctx.State{Session: row, User: user, Profile: guest}, true, ViewGuest},
		{"no_profile_welcome", authctx.State{Session: row, User: user}, false, ViewWelcome},
		{"no_profile_signin", authctx.State{Session: row, User: user}, true, ViewSignIn},
		{"signed_out", authctx.State{}, false, ViewWelcome},
		{"signed_out_signin", authctx.State{}, true, ViewSignIn},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Route(tc.st, tc.showSignIn); got != tc.want {
				t.Fatalf("Route: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestAdmin_FailsClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name string
		sess func(t *testing.T) Session
		want error
	}{
		{
			name: "guest",
			sess: func(t *testing.T) Session { return f.contextFor(t, "g@example.com", profile.RoleGuest) },
			want: ErrForbidden,
		},
		{
			name: "signed_out",
			sess: func(t *testing.T) Session { return f.contextFor(t, "", "") },
			want: ErrUnauthenticated,
		},
		{
			name: "loading",
			sess: func(t *testing.T) Session {
				c, err := authctx.New(authctx.Deps{Sessions: f.sessions, Profiles: f.resolver}, authctx.Options{})
				if err != nil {
					t.Fatalf("authctx: %v", err)
				}
				t.Cleanup(c.Close)
				return c
			},
			want: ErrUnauthenticated,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a := f.admin(tc.sess(t))
			ctx := context.Background()

			if _, err := a.Load(ctx); !errors.Is(err, tc.want) {
				t.Fatalf("Load: expected %v, got %v", tc.want, err)
			}
			if _, err := a.CreateInvitation(ctx, "x@example.com"); !errors.Is(err, tc.want) {
				t.Fatalf("CreateInvitation: expected %v, got %v", tc.want, err)
			}
			if _, err := a.CreateMessage(ctx, "hi"); !errors.Is(err, tc.want) {
				t.Fatalf("CreateMessage: expected %v, got %v", tc.want, err)
			}
		})
	}

	list, _ := f.invites.List(context.Background())
	if len(list) != 0 {
		t.Fatalf("non-admin created invitations: %+v", list)
	}
}

func TestAdmin_CreateInvitationRefreshesDashboard(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.admin(f.contextFor(t, "root@example.com", profile.RoleAdmin))
	ctx := context.Background()

	if _, err := a.CreateInvitation(ctx, "   "); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("blank email: expected ErrEmailRequired, got %v", err)
	}

	res, err := a.CreateInvitation(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if res.AcceptURL == "" || res.Invitation.Email != "a@x.com" || res.Invitation.Status != "pending" {
		t.Fatalf("result: %+v", res)
	}
	if res.Notice == nil {
		t.Fatalf("missing notice")
	}
	if len(res.Dashboard.Invitations) != 1 || res.Dashboard.Invitations[0].ID != res.Invitation.ID {
		t.Fatalf("dashboard invitations: %+v", res.Dashboard.Invitations)
	}
	if len(res.Dashboard.Profiles) != 1 || res.Dashboard.Profiles[0].Role != "admin" {
		t.Fatalf("dashboard profiles: %+v", res.Dashboard.Profiles)
	}
}

func TestAdmin_MessageReachesMountedGuestByPush(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.admin(f.contextFor(t, "root@example.com", profile.RoleAdmin))

	feed := &countingFeed{Feed: f.messages}
	g := NewGuest(GuestDeps{
		Session: f.contextFor(t, "guest@example.com", profile.RoleGuest),
		Feed:    feed,
		Hub:     f.hub,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.Mount(ctx); err != nil {
		t.Fatalf("mount: %v", err)
	}
	<-g.Changes()
	if len(g.Messages()) != 0 {
		t.Fatalf("expected an empty feed")
	}

	runDone := make(chan error, 1)
	go func() { runDone <- g.Run(ctx) }()

	if _, err := a.CreateMessage(ctx, "  "); !errors.Is(err, message.ErrEmptyContent) {
		t.Fatalf("blank content: expected ErrEmptyContent, got %v", err)
	}
	res, err := a.CreateMessage(ctx, "Hello guests")
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if len(res.Dashboard.Messages) != 1 {
		t.Fatalf("admin dashboard messages: %+v", res.Dashboard.Messages)
	}

	select {
	case <-g.Changes():
	case <-ctx.Done():
		t.Fatalf("guest view was not updated")
	}

	got := g.Messages()
	if len(got) != 1 || got[0].ID != res.Message.ID || got[0].Content != "Hello guests" {
		t.Fatalf("guest messages: %+v", got)
	}
	if n := feed.calls.Load(); n != 1 {
		t.Fatalf("guest fetched the feed %d times, want 1", n)
	}

	redirect, err := g.SignOut(ctx)
	if err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if redirect != RedirectSignIn {
		t.Fatalf("redirect: got %q", redirect)
	}
	if err := <-runDone; err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := f.hub.Subscribers(realtime.TopicMessages); n != 0 {
		t.Fatalf("subscription leaked: %d", n)
	}
}

func TestGuest_PrependsNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	if _, err := f.messages.Create(ctx, "", "old", base); err != nil {
		t.Fatalf("seed: %v", err)
	}

	g := NewGuest(GuestDeps{Session: f.contextFor(t, "g@example.com", profile.RoleGuest), Feed: f.messages, Hub: f.hub})
	if err := g.Mount(ctx); err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer g.Unmount()
	<-g.Changes()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	go func() { _ = g.Run(runCtx) }()

	if _, err := f.messages.Create(ctx, "", "new", base.Add(time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-g.Changes():
	case <-runCtx.Done():
		t.Fatalf("no update")
	}

	got := g.Messages()
	if len(got) != 2 || got[0].Content != "new" || got[1].Content != "old" {
		t.Fatalf("order: %+v", got)
	}
}

func TestGuest_RequiresSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	g := NewGuest(GuestDeps{Session: f.contextFor(t, "", ""), Feed: f.messages, Hub: f.hub})
	if err := g.Mount(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := g.Run(context.Background()); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}
}

func TestGuest_LoadReadsWithoutSubscribing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.messages.Create(ctx, "admin-1", "hello", time.Now().UTC()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	g := NewGuest(GuestDeps{Session: f.contextFor(t, "g@example.com", profile.RoleGuest), Feed: f.messages, Hub: f.hub})
	got, err := g.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Content != "hello" || got[0].CreatedBy != "admin-1" {
		t.Fatalf("load: %+v", got)
	}
	if n := f.hub.Subscribers(realtime.TopicMessages); n != 0 {
		t.Fatalf("load subscribed: %d", n)
	}

	anon := NewGuest(GuestDeps{Session: f.contextFor(t, "", ""), Feed: f.messages})
	if _, err := anon.Load(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestGuest_FeedMessagesGrowAtFront(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := f.messages.Create(ctx, "", "first", time.Now().UTC())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	g := NewGuest(GuestDeps{Session: f.contextFor(t, "g@example.com", profile.RoleGuest), Feed: f.messages, Hub: f.hub, QueueSize: 4})
	if err := g.Mount(ctx); err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer g.Unmount()
	<-g.Changes()
	go func() { _ = g.Run(ctx) }()

	second, err := f.messages.Create(ctx, "admin-1", "second", time.Now().UTC())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-g.Changes():
	case <-ctx.Done():
		t.Fatalf("no update")
	}

	got := g.FeedMessages()
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID || got[0].CreatedBy != "admin-1" {
		t.Fatalf("feed messages: %+v", got)
	}
}
