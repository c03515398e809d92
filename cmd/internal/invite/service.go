package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"portal/cmd/identity"
	"portal/cmd/identity/ids"
	"portal/cmd/internal/mail"
	"portal/cmd/internal/notice"
	"portal/cmd/security/password"
	"portal/cmd/security/token"
)

const (
	DefaultTTL       = 7 * 24 * time.Hour
	issueAttempts    = 3
	maxEmailLength   = 254
	maxFullNameRunes = 200
)

// Service issues invitations and drives their acceptance.
type Service struct {
	store   Store
	log     *slog.Logger
	baseURL string
	ttl     time.Duration
	tokens  TokenSource
	mailer  mail.Sender
}

// Option configures the Service.
type Option func(*Service) error

// WithBaseURL sets the public origin used in acceptance links (e.g. https://portal.example.com).
func WithBaseURL(base string) Option {
	return func(s *Service) error {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			u, err := url.Parse(base)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return ErrInvalidInput
			}
		}
		s.baseURL = base
		return nil
	}
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(src TokenSource) Option {
	return func(s *Service) error {
		if src == nil {
			return ErrInvalidInput
		}
		s.tokens = src
		return nil
	}
}

func WithMailer(m mail.Sender) Option {
	return func(s *Service) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithTTL overrides the invitation lifetime (default 7 days).
func WithTTL(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		s.ttl = d
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:  store,
		log:    slog.Default(),
		ttl:    DefaultTTL,
		tokens: RandomToken,
		mailer: mail.Noop{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Issued is a freshly created invitation plus the one-time plain token.
type Issued struct {
	Invitation Invitation
	Token      string
	AcceptURL  string
}

// Issue creates an invitation for email on behalf of issuerID.
func (s *Service) Issue(ctx context.Context, issuerID, email string, now time.Time) (Issued, error) {
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" || len(email) > maxEmailLength {
		return Issued{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var createdBy *string
	if id := strings.TrimSpace(issuerID); id != "" {
		createdBy = &id
	}

	var lastErr error
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		plain, err := s.tokens()
		if err != nil {
			return Issued{}, fmt.Errorf("invite: token: %w", err)
		}
		id, err := ids.New(now)
		if err != nil {
			return Issued{}, err
		}

		inv, err := s.store.Create(ctx, CreateRecord{
			ID:        id,
			Email:     email,
			TokenHash: token.HashOpaqueTokenHex(plain),
			CreatedBy: createdBy,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		})
		if errors.Is(err, ErrTokenConflict) {
			lastErr = err
			s.log.Warn("invite.issue.token_conflict", "attempt", attempt)
			continue
		}
		if err != nil {
			return Issued{}, err
		}

		out := Issued{Invitation: inv, Token: plain, AcceptURL: s.AcceptURL(plain)}
		issuedTotal.Inc()
		s.log.Info("invite.issue.ok", "invitation_id", inv.ID, "created_by", issuerID)
		s.deliver(ctx, out)
		return out, nil
	}
	return Issued{}, lastErr
}

// AcceptURL builds the shareable link for a plain token.
func (s *Service) AcceptURL(plain string) string {
	return s.baseURL + "/accept-invitation/" + url.PathEscape(plain)
}

func (s *Service) deliver(ctx context.Context, iss Issued) {
	body := "You have been invited to Portal.\n\nCreate your account here:\n" + iss.AcceptURL +
		"\n\nThe link expires on " + iss.Invitation.ExpiresAt.Format(time.RFC1123) + ".\n"
	if err := s.mailer.Send(ctx, iss.Invitation.Email, "You're invited to Portal", body); err != nil {
		s.log.Warn("invite.mail.fail", "invitation_id", iss.Invitation.ID, "err", err)
	}
}

// List returns every invitation, newest first.
func (s *Service) List(ctx context.Context) ([]Invitation, error) {
	return s.store.List(ctx)
}

// Open loads the invitation behind a token: loading -> valid | invalid | expired.
func (s *Service) Open(ctx context.Context, plain string, now time.Time) Acceptance {
	a := Acceptance{State: StateLoading, Trace: []AcceptState{StateLoading}}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	plain = strings.TrimSpace(plain)
	if !validTokenShape(plain) {
		return invalid(a)
	}

	inv, err := s.store.GetOpenByTokenHash(ctx, token.HashOpaqueTokenHex(plain))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("invite.open.fail", "err", err)
		}
		return invalid(a)
	}
	if inv.Expired(now) {
		return expired(a)
	}

	a = a.to(StateValid)
	a.InvitationID = inv.ID
	a.Email = inv.Email
	return a
}

// Submit finalizes account creation: valid -> submitting -> accepted | failed.
// Empty fields keep the form in valid without touching the store.
func (s *Service) Submit(ctx context.Context, plain, fullName, secret string, now time.Time) Acceptance {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	a := s.Open(ctx, plain, now)
	if a.State != StateValid {
		acceptanceTotal.WithLabelValues(string(a.State)).Inc()
		return a
	}

	fullName = strings.TrimSpace(fullName)
	if fullName == "" || secret == "" || len([]rune(fullName)) > maxFullNameRunes {
		a.Notice = notice.Error(msgRequired)
		return a
	}

	a = a.to(StateSubmitting)

	_, user, err := s.store.Accept(ctx, AcceptRecord{
		ID: a.InvitationID,
		Account: identity.CreateUserInput{
			Email:    a.Email,
			Password: secret,
			FullName: &fullName,
			Now:      now,
		},
		Now: now,
	})
	if err != nil {
		if errors.Is(err, ErrNotActive) {
			// Closed between Open and Accept: report what the invitee would now see.
			again := s.Open(ctx, plain, now)
			if again.State == StateExpired {
				a = expired(a)
			} else {
				a = invalid(a)
			}
			acceptanceTotal.WithLabelValues(string(a.State)).Inc()
			return a
		}

		s.log.Warn("invite.accept.fail", "invitation_id", a.InvitationID, "err", err)
		a = a.to(StateFailed)
		msg := password.UserMessage(err)
		if msg == "" {
			msg = msgFailed
		}
		a.Notice = notice.Error(msg)
		acceptanceTotal.WithLabelValues(string(a.State)).Inc()
		return a
	}

	a = a.to(StateAccepted)
	a.Redirect = RedirectSignIn
	a.Notice = notice.Success(msgAccepted)
	acceptanceTotal.WithLabelValues(string(a.State)).Inc()
	s.log.Info("invite.accept.ok", "invitation_id", a.InvitationID, "user_id", user.ID)
	return a
}

func invalid(a Acceptance) Acceptance {
	a = a.to(StateInvalid)
	a.Email = ""
	a.Redirect = RedirectHome
	a.Notice = notice.Error(msgInvalid)
	return a
}

func expired(a Acceptance) Acceptance {
	a = a.to(StateExpired)
	a.Email = ""
	a.Redirect = RedirectHome
	a.Notice = notice.Error(msgExpired)
	return a
}
