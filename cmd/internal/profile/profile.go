// Package profile owns the per-user profile record (display name and role) and the
// resolver that guarantees an authenticated user ends up with one.
package profile

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role is the authorization role carried by a profile.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleGuest Role = "guest"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleGuest
}

// ParseRole maps free text to a Role. Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidInput
	}
	return r, nil
}

// Profile is one row of the profiles table. ID equals the owning user's ID.
type Profile struct {
	ID        string
	FullName  *string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin is nil-safe: a missing profile is never an admin.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Store is the persistence boundary for profiles.
type Store interface {
	// Get returns ErrNotFound when the user has no profile.
	Get(ctx context.Context, id string) (Profile, error)
	// Insert returns ErrConflict when a profile with the same id exists.
	Insert(ctx context.Context, p Profile) (Profile, error)
	// List returns every profile, newest first.
	List(ctx context.Context) ([]Profile, error)
}

var (
	ErrInvalidInput = errors.New("profile: invalid input")
	ErrNotFound     = errors.New("profile: not found")
	ErrConflict     = errors.New("profile: already exists")
)

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func validateForInsert(p Profile) (Profile, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return Profile{}, ErrInvalidInput
	}
	if p.Role == "" {
		p.Role = RoleGuest
	}
	if !p.Role.Valid() {
		return Profile{}, ErrInvalidInput
	}
	p.FullName = trimPtr(p.FullName)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return p, nil
}
