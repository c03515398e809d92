package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"portal/cmd/identity"
	"portal/cmd/internal/auth/session"
	"portal/cmd/internal/invite"
	"portal/cmd/internal/message"
	"portal/cmd/internal/profile"
)

// backends is the persistence layer chosen at startup: Postgres when
// PORTAL_DATABASE_URL is set, in-memory otherwise.
type backends struct {
	pool *pgxpool.Pool

	profiles profile.Store
	users    identity.Store
	sessions session.Store
	invites  invite.Store
	messages message.Store
}

func (b backends) dbEnabled() bool { return b.pool != nil }

// Close releases the pool. The stores themselves own nothing.
func (b backends) Close(_ context.Context) error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

func newBackends(ctx context.Context, cfg Config, hasher identity.Hasher, log Logger) (backends, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		profiles := profile.NewMemoryStore()
		users := identity.NewMemoryStore(profiles, hasher)
		return backends{
			profiles: profiles,
			users:    users,
			sessions: session.NewMemoryStore(),
			invites:  invite.NewMemoryStore(users),
			messages: message.NewMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return backends{}, fmt.Errorf("db: %w", err)
	}
	b, err := postgresBackends(pool, cfg.DBSchema, hasher)
	if err != nil {
		pool.Close()
		return backends{}, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return b, nil
}

func postgresBackends(pool *pgxpool.Pool, schema string, hasher identity.Hasher) (backends, error) {
	profiles, err := profile.NewPostgresStore(pool, profile.WithSchema(schema))
	if err != nil {
		return backends{}, err
	}
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema), identity.WithHasher(hasher))
	if err != nil {
		return backends{}, err
	}
	sessions, err := session.NewPostgresStore(pool, schema)
	if err != nil {
		return backends{}, err
	}
	invites, err := invite.NewPostgresStore(pool, users, invite.WithSchema(schema))
	if err != nil {
		return backends{}, err
	}
	messages, err := message.NewPostgresStore(pool, message.WithSchema(schema))
	if err != nil {
		return backends{}, err
	}
	return backends{
		pool:     pool,
		profiles: profiles,
		users:    users,
		sessions: sessions,
		invites:  invites,
		messages: messages,
	}, nil
}
