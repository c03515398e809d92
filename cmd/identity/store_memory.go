package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"portal/cmd/internal/profile"
)

// MemoryStore keeps accounts in process memory. Profiles are written to the
// given profile store so the rest of the service sees one consistent view.
type MemoryStore struct {
	hasher   Hasher
	profiles profile.Store

	mu      sync.RWMutex
	byID    map[string]UserAuth
	byEmail map[string]string
}

// NewMemoryStore constructs a MemoryStore. A nil hasher means DefaultHasher().
// A nil profile store skips profile creation, leaving resolution to self-heal.
func NewMemoryStore(profiles profile.Store, h Hasher) *MemoryStore {
	if h == nil {
		h = DefaultHasher()
	}
	return &MemoryStore{
		hasher:   h,
		profiles: profiles,
		byID:     make(map[string]UserAuth),
		byEmail:  make(map[string]string),
	}
}

func (s *MemoryStore) Hasher() Hasher { return s.hasher }

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	// Hash outside the lock; Argon2id is deliberately slow.
	p, err := prepareUser(op, s.hasher, in)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[p.user.EmailNorm]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	if s.profiles != nil {
		_, err := s.profiles.Insert(ctx, profile.Profile{
			ID:        p.user.ID,
			FullName:  p.user.FullName,
			Role:      p.role,
			CreatedAt: p.user.CreatedAt,
			UpdatedAt: p.user.CreatedAt,
		})
		if err != nil {
			return User{}, err
		}
	}

	s.byID[p.user.ID] = UserAuth{User: p.user, PasswordHash: p.hash}
	s.byEmail[p.user.EmailNorm] = p.user.ID
	return p.user, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, invalid(op, "missing id")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ua, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return ua.User, nil
}

func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return UserAuth{}, invalid(op, "missing email")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[norm]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || hash == "" {
		return invalid(op, "missing user_id or hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ua, ok := s.byID[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "credential"}
	}
	ua.PasswordHash = hash
	s.byID[userID] = ua
	return nil
}

// Len returns the number of accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
