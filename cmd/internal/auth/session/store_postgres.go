package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"portal/cmd/identity/ids"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions).
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore creates a Postgres-backed session store in schema (default "portal").
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "portal"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, "sessions"}.Sanitize(),
	}, nil
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, expiresAt time.Time) (string, error) {
	id, err := ids.New(now)
	if err != nil {
		return "", err
	}

	platform := dev.Platform
	if platform == "" {
		platform = PlatformUnknown
	}

	var ip any
	if dev.IP != nil {
		ip = dev.IP.String()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (
			id, user_id, created_at, expires_at, revoked_at, user_agent, ip, platform
		) VALUES (
			$1, $2, $3, $4, NULL, $5, $6, $7
		)
	`, id, userID, now, expiresAt, nullIfEmpty(dev.UserAgent), ip, string(platform))
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	var (
		row      Row
		platform string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, created_at, expires_at, revoked_at, platform
		FROM `+s.table+`
		WHERE id = $1
	`, sessionID).Scan(
		&row.ID,
		&row.UserID,
		&row.CreatedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&platform,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	row.Platform = Platform(platform)
	return row, nil
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, now)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already revoked" from "no such session".
	if _, err := s.GetByID(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
