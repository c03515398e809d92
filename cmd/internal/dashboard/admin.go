package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"portal/cmd/internal/auth/authctx"
	"portal/cmd/internal/invite"
	"portal/cmd/internal/message"
	"portal/cmd/internal/notice"
	"portal/cmd/internal/profile"
)

var (
	ErrForbidden       = errors.New("dashboard: admin role required")
	ErrUnauthenticated = errors.New("dashboard: sign in required")
	ErrEmailRequired   = errors.New("dashboard: email is required")
)

// Session is the part of the session context the dashboards read.
// *authctx.Context satisfies it.
type Session interface {
	Snapshot() authctx.State
	IsAdmin() bool
	SignOut(ctx context.Context) error
}

type ProfileLister interface {
	List(ctx context.Context) ([]profile.Profile, error)
}

type Invitations interface {
	Issue(ctx context.Context, issuerID, email string, now time.Time) (invite.Issued, error)
	List(ctx context.Context) ([]invite.Invitation, error)
}

type Messages interface {
	Create(ctx context.Context, authorID, content string, now time.Time) (message.Message, error)
	List(ctx context.Context) ([]message.Message, error)
}

type AdminDeps struct {
	Session     Session
	Profiles    ProfileLister
	Invitations Invitations
	Messages    Messages
	Log         *slog.Logger
	Now         func() time.Time
}

// AdminSnapshot is everything the admin dashboard renders.
type AdminSnapshot struct {
	Profiles    []ProfileView    `json:"profiles"`
	Invitations []InvitationView `json:"invitations"`
	Messages    []MessageView    `json:"messages"`
}

type InvitationResult struct {
	Invitation InvitationView `json:"invitation"`
	AcceptURL  string         `json:"accept_url"`
	Dashboard  AdminSnapshot  `json:"dashboard"`
	Notice     *notice.Notice `json:"notice"`
}

type MessageResult struct {
	Message   MessageView    `json:"message"`
	Dashboard AdminSnapshot  `json:"dashboard"`
	Notice    *notice.Notice `json:"notice"`
}

// Admin is the admin dashboard of one session.
type Admin struct {
	d   AdminDeps
	log *slog.Logger
}

func NewAdmin(d AdminDeps) *Admin {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Admin{d: d, log: log}
}

// authorize fails closed: anything but a resolved admin profile is refused.
func (a *Admin) authorize() (authctx.State, error) {
	st := a.d.Session.Snapshot()
	if !st.Authenticated() {
		return st, ErrUnauthenticated
	}
	if !a.d.Session.IsAdmin() {
		return st, ErrForbidden
	}
	return st, nil
}

// Load reads all profiles, invitations and messages.
func (a *Admin) Load(ctx context.Context) (AdminSnapshot, error) {
	if _, err := a.authorize(); err != nil {
		return AdminSnapshot{}, err
	}
	return a.load(ctx)
}

func (a *Admin) load(ctx context.Context) (AdminSnapshot, error) {
	profiles, err := a.d.Profiles.List(ctx)
	if err != nil {
		return AdminSnapshot{}, fmt.Errorf("load profiles: %w", err)
	}
	invitations, err := a.d.Invitations.List(ctx)
	if err != nil {
		return AdminSnapshot{}, fmt.Errorf("load invitations: %w", err)
	}
	msgs, err := a.d.Messages.List(ctx)
	if err != nil {
		return AdminSnapshot{}, fmt.Errorf("load messages: %w", err)
	}

	now := a.d.Now()
	out := AdminSnapshot{
		Profiles:    make([]ProfileView, 0, len(profiles)),
		Invitations: make([]InvitationView, 0, len(invitations)),
		Messages:    messageViews(msgs),
	}
	for _, p := range profiles {
		out.Profiles = append(out.Profiles, profileView(p))
	}
	for _, inv := range invitations {
		out.Invitations = append(out.Invitations, invitationView(inv, now))
	}
	return out, nil
}

// CreateInvitation issues an invitation on behalf of the signed-in admin and
// re-reads the dashboard.
func (a *Admin) CreateInvitation(ctx context.Context, email string) (InvitationResult, error) {
	st, err := a.authorize()
	if err != nil {
		return InvitationResult{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return InvitationResult{}, ErrEmailRequired
	}

	now := a.d.Now()
	iss, err := a.d.Invitations.Issue(ctx, st.User.ID, email, now)
	if err != nil {
		a.log.Warn("dashboard.invite.fail", "admin_id", st.User.ID, "err", err)
		return InvitationResult{}, err
	}

	snap, err := a.load(ctx)
	if err != nil {
		return InvitationResult{}, err
	}
	return InvitationResult{
		Invitation: invitationView(iss.Invitation, now),
		AcceptURL:  iss.AcceptURL,
		Dashboard:  snap,
		Notice:     notice.Success("Invitation created. Share the link with " + email + "."),
	}, nil
}

// CreateMessage posts a broadcast message and re-reads the dashboard.
func (a *Admin) CreateMessage(ctx context.Context, content string) (MessageResult, error) {
	st, err := a.authorize()
	if err != nil {
		return MessageResult{}, err
	}
	if strings.TrimSpace(content) == "" {
		return MessageResult{}, message.ErrEmptyContent
	}

	m, err := a.d.Messages.Create(ctx, st.User.ID, content, a.d.Now())
	if err != nil {
		a.log.Warn("dashboard.message.fail", "admin_id", st.User.ID, "err", err)
		return MessageResult{}, err
	}

	snap, err := a.load(ctx)
	if err != nil {
		return MessageResult{}, err
	}
	return MessageResult{
		Message:   MessageViewOf(m),
		Dashboard: snap,
		Notice:    notice.Success("Message published."),
	}, nil
}

// SignOut ends the session and returns where to go next.
func (a *Admin) SignOut(ctx context.Context) (string, error) {
	return RedirectSignIn, a.d.Session.SignOut(ctx)
}
