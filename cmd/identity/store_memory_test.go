package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"portal/cmd/internal/profile"
	"portal/cmd/security/password"
)

func newMemoryStore(t *testing.T) (*MemoryStore, *profile.MemoryStore) {
	t.Helper()
	profiles := profile.NewMemoryStore()
	return NewMemoryStore(profiles, password.Cheap()), profiles
}

func strPtr(s string) *string { return &s }

func TestMemoryStore_CreateUser_WritesProfile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, profiles := newMemoryStore(t)

	u, err := s.CreateUser(ctx, CreateUserInput{
		Email:    " Ana@X.com ",
		Password: "secret1",
		FullName: strPtr("Ana"),
		Now:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.EmailNorm != "ana@x.com" || u.Email != "Ana@X.com" {
		t.Fatalf("email fields: %+v", u)
	}

	p, err := profiles.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Role != profile.RoleGuest {
		t.Fatalf("role: got %q want guest", p.Role)
	}
	if p.FullName == nil || *p.FullName != "Ana" {
		t.Fatalf("profile name: %v", p.FullName)
	}

	ua, err := s.GetUserAuthByEmail(ctx, "ANA@x.com")
	if err != nil {
		t.Fatalf("get auth: %v", err)
	}
	ok, err := s.Hasher().Verify(ua.PasswordHash, "secret1")
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newMemoryStore(t)

	if _, err := s.CreateUser(ctx, CreateUserInput{Email: "User@Example.com", Password: "secret1"}); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	_, err := s.CreateUser(ctx, CreateUserInput{Email: "user@example.COM", Password: "secret2"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != "email" {
		t.Fatalf("expected email conflict, got %#v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("accounts: got %d want 1", s.Len())
	}
}

func TestMemoryStore_CreateUser_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     CreateUserInput
		policy bool
	}{
		{"missing_email", CreateUserInput{Password: "secret1"}, false},
		{"malformed_email", CreateUserInput{Email: "nobody", Password: "secret1"}, false},
		{"missing_password", CreateUserInput{Email: "a@x.com"}, false},
		{"short_password", CreateUserInput{Email: "a@x.com", Password: "abc"}, true},
		{"long_password", CreateUserInput{Email: "a@x.com", Password: strings.Repeat("x", 129)}, true},
		{"bad_role", CreateUserInput{Email: "a@x.com", Password: "secret1", Role: "owner"}, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newMemoryStore(t)
			_, err := s.CreateUser(context.Background(), tc.in)
			if !IsInvalidInput(err) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if got := IsPasswordPolicyError(err); got != tc.policy {
				t.Fatalf("IsPasswordPolicyError: got %v want %v", got, tc.policy)
			}
			if s.Len() != 0 {
				t.Fatalf("no account may be created")
			}
		})
	}
}

type failingProfiles struct{ profile.Store }

func (failingProfiles) Insert(context.Context, profile.Profile) (profile.Profile, error) {
	return profile.Profile{}, errors.New("profiles unavailable")
}

func TestMemoryStore_ProfileFailureCreatesNoAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(failingProfiles{profile.NewMemoryStore()}, password.Cheap())

	if _, err := s.CreateUser(ctx, CreateUserInput{Email: "a@x.com", Password: "secret1"}); err == nil {
		t.Fatalf("expected error when the profile cannot be written")
	}
	if s.Len() != 0 {
		t.Fatalf("accounts: got %d want 0", s.Len())
	}
	if _, err := s.GetUserAuthByEmail(ctx, "a@x.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_GetUserByID_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := newMemoryStore(t)
	if _, err := s.GetUserByID(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_UpdatePasswordHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newMemoryStore(t)

	u, err := s.CreateUser(ctx, CreateUserInput{Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h, err := s.Hasher().Hash("another1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, u.ID, h, time.Now()); err != nil {
		t.Fatalf("update: %v", err)
	}
	ua, err := s.GetUserAuthByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ua.PasswordHash != h {
		t.Fatalf("hash not replaced")
	}
	if err := s.UpdatePasswordHash(ctx, "missing", h, time.Now()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
