package invite

import (
	"context"
	"sort"
	"strings"
	"sync"

	"portal/cmd/identity"
)

// AccountCreator creates accounts for accepted invitations.
type AccountCreator interface {
	CreateUser(ctx context.Context, in identity.CreateUserInput) (identity.User, error)
}

// MemoryStore keeps invitations in process memory.
// Accept holds the store lock across account creation, so concurrent
// submissions for one invitation create at most one account.
type MemoryStore struct {
	accounts AccountCreator

	mu     sync.Mutex
	rows   map[string]Invitation
	byHash map[string]string
}

func NewMemoryStore(accounts AccountCreator) *MemoryStore {
	return &MemoryStore{
		accounts: accounts,
		rows:     make(map[string]Invitation),
		byHash:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.Email) == "" {
		return Invitation{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byHash[in.TokenHash]; taken {
		return Invitation{}, ErrTokenConflict
	}
	inv := Invitation{
		ID:        in.ID,
		Email:     in.Email,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}
	s.rows[in.ID] = inv
	s.byHash[in.TokenHash] = in.ID
	return inv, nil
}

func (s *MemoryStore) GetOpenByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	inv := s.rows[id]
	if inv.Accepted {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]Invitation, 0, len(s.rows))
	for _, inv := range s.rows {
		out = append(out, inv)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Accept(ctx context.Context, in AcceptRecord) (Invitation, identity.User, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, identity.User{}, err
	}
	if s.accounts == nil {
		return Invitation{}, identity.User{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.rows[in.ID]
	if !ok {
		return Invitation{}, identity.User{}, ErrNotFound
	}
	if inv.Accepted || inv.Expired(in.Now) {
		return Invitation{}, identity.User{}, ErrNotActive
	}

	u, err := s.accounts.CreateUser(ctx, in.Account)
	if err != nil {
		return Invitation{}, identity.User{}, err
	}

	at := in.Now
	inv.Accepted = true
	inv.AcceptedAt = &at
	s.rows[in.ID] = inv
	return inv, u, nil
}
