package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"portal/cmd/identity"
)

// Service implements sign-up, sign-in, sign-out and get-current-session.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
	users  identity.Store
	broker *Broker
	log    *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Issued is the result of a successful sign-in.
type Issued struct {
	SessionID   string
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

// Active is a validated current session.
type Active struct {
	Session Row
	User    identity.User
	Claims  AccessClaims
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithBroker(b *Broker) Option {
	return func(s *Service) {
		if b != nil {
			s.broker = b
		}
	}
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, users identity.Store, tokens AccessTokenManager, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		users:  users,
		tokens: tokens,
		broker: NewBroker(),
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Subscribe returns a listener for sign-in and sign-out events.
func (s *Service) Subscribe() *Subscription { return s.broker.Subscribe(16) }

// Now is the service clock; callers comparing against session expiry use it.
func (s *Service) Now() time.Time { return s.now() }

// SignUp creates a guest account. displayName is stored as account metadata
// and becomes the profile's full name.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (identity.User, error) {
	var name *string
	if n := strings.TrimSpace(displayName); n != "" {
		name = &n
	}
	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Email:    email,
		Password: password,
		FullName: name,
		Now:      s.now(),
	})
	if err != nil {
		return identity.User{}, err
	}
	s.log.Info("auth.signup.ok", "user_id", u.ID)
	return u, nil
}

// SignIn verifies credentials and opens a session.
// Every credential failure is ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string, dev DeviceContext) (Issued, error) {
	now := s.now()
	hasher := s.users.Hasher()

	ua, err := s.users.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			// Spend the same Argon2id work as a real verify so missing accounts are not observable by timing.
			_, _ = hasher.Verify(s.dummy(hasher), password)
			return Issued{}, ErrInvalidCredentials
		}
		return Issued{}, err
	}

	ok, err := hasher.Verify(ua.PasswordHash, password)
	if err != nil {
		s.log.Error("auth.signin.verify.fail", "user_id", ua.ID, "err", err)
		return Issued{}, ErrInvalidCredentials
	}
	if !ok {
		return Issued{}, ErrInvalidCredentials
	}

	if hasher.NeedsRehash(ua.PasswordHash) {
		if h, err := hasher.Hash(password); err == nil {
			if err := s.users.UpdatePasswordHash(ctx, ua.ID, h, now); err != nil {
				s.log.Warn("auth.signin.rehash.fail", "user_id", ua.ID, "err", err)
			}
		}
	}

	exp := now.Add(s.cfg.SessionTTL)
	sid, err := s.store.Create(ctx, now, ua.ID, dev, exp)
	if err != nil {
		return Issued{}, err
	}
	tok, err := s.tokens.Issue(ua.ID, sid, now, exp)
	if err != nil {
		return Issued{}, err
	}

	s.broker.Publish(Event{Kind: EventSignedIn, UserID: ua.ID, SessionID: sid, At: now})
	s.log.Info("auth.signin.ok", "user_id", ua.ID, "session_id", sid)

	return Issued{SessionID: sid, UserID: ua.ID, AccessToken: tok, ExpiresAt: exp}, nil
}

// SignOut revokes the session and notifies subscribers. Revoking twice is not an error.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	now := s.now()

	row, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	changed, err := s.store.Revoke(ctx, now, sessionID)
	if err != nil {
		return err
	}
	if changed {
		s.broker.Publish(Event{Kind: EventSignedOut, UserID: row.UserID, SessionID: sessionID, At: now})
		s.log.Info("auth.signout.ok", "user_id", row.UserID, "session_id", sessionID)
	}
	return nil
}

// Current verifies an access token and checks that the backing session is active.
func (s *Service) Current(ctx context.Context, accessToken string) (Active, error) {
	now := s.now()

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" || len(accessToken) > 4096 {
		return Active{}, ErrInvalidToken
	}

	claims, err := s.tokens.Verify(accessToken, now)
	if err != nil {
		return Active{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return Active{}, err
	}
	if row.UserID != claims.UserID {
		return Active{}, ErrInvalidToken
	}
	if err := row.Active(now); err != nil {
		return Active{}, err
	}

	u, err := s.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Active{}, ErrSessionNotFound
		}
		return Active{}, err
	}

	return Active{Session: row, User: u, Claims: claims}, nil
}

func (s *Service) dummy(h identity.Hasher) string {
	s.dummyOnce.Do(func() {
		enc, err := h.Hash("portal-dummy-password")
		if err == nil {
			s.dummyHash = enc
		}
	})
	return s.dummyHash
}
