package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"portal/cmd/internal/profile"
)

// User is the account record. FullName is the metadata captured at sign-up.
type User struct {
	ID        string
	Email     string
	EmailNorm string
	FullName  *string
	CreatedAt time.Time
}

// UserAuth is a user plus its stored password hash. It never leaves the auth path.
type UserAuth struct {
	User
	PasswordHash string
}

// CreateUserInput describes a new account.
// Role defaults to guest; only out-of-band tooling passes admin.
type CreateUserInput struct {
	Email    string
	Password string
	FullName *string
	Role     profile.Role
	Now      time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// CreateUser writes the user, its credential and its profile atomically.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	// UpdatePasswordHash replaces a credential, used to upgrade hashes on sign-in.
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	// Hasher is the password hasher the store writes credentials with.
	Hasher() Hasher
}

// preparedUser is the validated, hashed form of CreateUserInput shared by both stores.
type preparedUser struct {
	user User
	hash string
	role profile.Role
}

func prepareUser(op string, h Hasher, in CreateUserInput) (preparedUser, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return preparedUser{}, invalid(op, "email is required")
	}
	if !looksLikeEmail(email) {
		return preparedUser{}, invalid(op, "email is malformed")
	}
	if in.Password == "" {
		return preparedUser{}, invalid(op, "password is required")
	}

	role := in.Role
	if role == "" {
		role = profile.RoleGuest
	}
	if !role.Valid() {
		return preparedUser{}, invalid(op, "unknown role")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := h.Hash(in.Password)
	if err != nil {
		if IsPasswordPolicyError(err) {
			return preparedUser{}, fmt.Errorf("%w: %w", invalid(op, "password rejected by policy"), err)
		}
		return preparedUser{}, err
	}

	id, err := newUserID(now)
	if err != nil {
		return preparedUser{}, err
	}

	return preparedUser{
		user: User{
			ID:        id,
			Email:     strings.TrimSpace(in.Email),
			EmailNorm: email,
			FullName:  trimPtr(in.FullName),
			CreatedAt: now,
		},
		hash: hash,
		role: role,
	}, nil
}
