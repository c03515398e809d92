package invite

import (
	"context"
	"time"

	"portal/cmd/identity"
)

// Invitation is one invitations row. The plain token is never stored.
type Invitation struct {
	ID         string
	Email      string
	CreatedBy  *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Accepted   bool
	AcceptedAt *time.Time
}

// Expired reports whether the expiry is strictly before now.
func (i Invitation) Expired(now time.Time) bool { return i.ExpiresAt.Before(now) }

// Status is the label shown in the admin list.
func (i Invitation) Status(now time.Time) string {
	switch {
	case i.Accepted:
		return "accepted"
	case i.Expired(now):
		return "expired"
	default:
		return "pending"
	}
}

// CreateRecord is a normalized invitation insert payload.
type CreateRecord struct {
	ID        string
	Email     string
	TokenHash string
	CreatedBy *string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AcceptRecord closes invitation ID by creating Account.
type AcceptRecord struct {
	ID      string
	Account identity.CreateUserInput
	Now     time.Time
}

// Store is the persistence boundary for invitations.
type Store interface {
	// Create returns ErrTokenConflict when the token hash is already taken.
	Create(ctx context.Context, in CreateRecord) (Invitation, error)

	// GetOpenByTokenHash only sees invitations with accepted = false.
	GetOpenByTokenHash(ctx context.Context, tokenHash string) (Invitation, error)

	// List returns every invitation, newest first.
	List(ctx context.Context) ([]Invitation, error)

	// Accept creates the account and marks the invitation accepted as one unit.
	// Either both happen or neither does. An invitation that is accepted or
	// expired at in.Now yields ErrNotActive and no account.
	Accept(ctx context.Context, in AcceptRecord) (Invitation, identity.User, error)
}
