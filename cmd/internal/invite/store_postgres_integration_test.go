package invite

import (
	"context"
	"testing"
	"time"

	"portal/cmd/identity"
	"portal/cmd/internal/pgtest"
	"portal/cmd/security/password"
)

// Integration tests are opt-in and require PORTAL_DATABASE_URL.

func mustNewPostgresService(t *testing.T, opts ...Option) (*Service, *identity.PostgresStore) {
	t.Helper()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(schema), identity.WithHasher(password.Cheap()))
	if err != nil {
		t.Fatalf("new identity store: %v", err)
	}
	store, err := NewPostgresStore(pool, accounts, WithSchema(schema))
	if err != nil {
		t.Fatalf("new invite store: %v", err)
	}
	svc, err := NewService(store, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, accounts
}

func TestPostgresStore_AcceptFlow(t *testing.T) {
	t.Parallel()

	svc, accounts := mustNewPostgresService(t, WithTokenSource(fixedToken("abc123")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	iss, err := svc.Issue(ctx, "", "a@x.com", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if got := svc.Open(ctx, "abc123", now.Add(time.Minute)); got.State != StateValid || got.Email != "a@x.com" {
		t.Fatalf("open: got %+v", got)
	}

	res := svc.Submit(ctx, "abc123", "Ann", "secret1", now.Add(2*time.Minute))
	if res.State != StateAccepted || res.Redirect != RedirectSignIn {
		t.Fatalf("submit: got %+v", res)
	}

	if _, err := accounts.GetUserAuthByEmail(ctx, "a@x.com"); err != nil {
		t.Fatalf("account missing: %v", err)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != iss.Invitation.ID {
		t.Fatalf("list: %+v", list)
	}
	if !list[0].Accepted || list[0].AcceptedAt == nil {
		t.Fatalf("invitation not accepted: %+v", list[0])
	}

	if got := svc.Open(ctx, "abc123", now.Add(3*time.Minute)).State; got != StateInvalid {
		t.Fatalf("reuse: got %q", got)
	}
}

func TestPostgresStore_AcceptFailureRollsBack(t *testing.T) {
	t.Parallel()

	svc, accounts := mustNewPostgresService(t, WithTokenSource(fixedToken("dup9")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if _, err := accounts.CreateUser(ctx, identity.CreateUserInput{
		Email:    "dup@x.com",
		Password: "secret1",
		Now:      now,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	if _, err := svc.Issue(ctx, "", "dup@x.com", now); err != nil {
		t.Fatalf("issue: %v", err)
	}

	res := svc.Submit(ctx, "dup9", "Dee", "secret1", now.Add(time.Minute))
	if res.State != StateFailed {
		t.Fatalf("submit: got %q", res.State)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Accepted || list[0].AcceptedAt != nil {
		t.Fatalf("invitation should stay open: %+v", list)
	}
}

func TestPostgresStore_ExpiredAndConflict(t *testing.T) {
	t.Parallel()

	svc, _ := mustNewPostgresService(t, WithTokenSource(fixedToken("old1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if _, err := svc.Issue(ctx, "", "old@x.com", now); err != nil {
		t.Fatalf("issue: %v", err)
	}

	later := now.Add(8 * 24 * time.Hour)
	if got := svc.Open(ctx, "old1", later); got.State != StateExpired || got.Redirect != RedirectHome {
		t.Fatalf("open: got %+v", got)
	}
	if got := svc.Submit(ctx, "old1", "Old", "secret1", later); got.State != StateExpired {
		t.Fatalf("submit: got %q", got.State)
	}

	if _, err := svc.Issue(ctx, "", "other@x.com", now); err == nil {
		t.Fatalf("expected token conflict on reused token")
	}
}
