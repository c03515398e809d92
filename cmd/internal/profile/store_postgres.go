package profile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the profiles table.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	sb     sq.StatementBuilderType
}

type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "portal").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("profile: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "portal",
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("profile: nil pool")
	}
	return st, nil
}

var profileColumns = []string{"id", "full_name", "role", "created_at", "updated_at"}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "profiles"}.Sanitize()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Profile{}, ErrInvalidInput
	}

	query, args, err := s.sb.Select(profileColumns...).
		From(s.table()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Profile{}, err
	}

	p, err := scanProfile(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) Insert(ctx context.Context, p Profile) (Profile, error) {
	p, err := validateForInsert(p)
	if err != nil {
		return Profile{}, err
	}

	query, args, err := s.sb.Insert(s.table()).
		Columns(profileColumns...).
		Values(p.ID, p.FullName, string(p.Role), p.CreatedAt, p.UpdatedAt).
		ToSql()
	if err != nil {
		return Profile{}, err
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation
				return Profile{}, ErrConflict
			case "23503": // foreign_key_violation: no such user
				return Profile{}, ErrNotFound
			}
		}
		return Profile{}, err
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Profile, error) {
	query, args, err := s.sb.Select(profileColumns...).
		From(s.table()).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Profile, 0, 16)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p         Profile
		role      string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&p.ID, &p.FullName, &role, &createdAt, &updatedAt); err != nil {
		return Profile{}, err
	}
	p.Role = Role(role)
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return p, nil
}
