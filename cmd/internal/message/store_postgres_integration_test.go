package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"portal/cmd/identity/ids"
	"portal/cmd/internal/pgtest"
)

// Integration tests are opt-in and require PORTAL_DATABASE_URL.

func TestPostgresStore_InsertAndList(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc := NewService(store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, body := range []string{"older", "newer"} {
		if _, err := svc.Create(ctx, "", body, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Content != "newer" || list[1].Content != "older" {
		t.Fatalf("list: %+v", list)
	}

	ghost, err := ids.New(base)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	_, err = svc.Create(ctx, ghost, "from nobody", base)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown author: expected ErrInvalidInput, got %v", err)
	}
}
