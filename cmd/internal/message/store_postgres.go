package message

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the messages table.
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
			return fmt.Errorf("message: invalid schema identifier")
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
		return nil, fmt.Errorf("message: nil pool")
	}
	return st, nil
}

var messageColumns = []string{"id", "content", "created_by", "created_at", "updated_at"}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "messages"}.Sanitize()
}

func (s *PostgresStore) Insert(ctx context.Context, m Message) (Message, error) {
	query, args, err := s.sb.Insert(s.table()).
		Columns(messageColumns...).
		Values(m.ID, m.Content, m.CreatedBy, m.CreatedAt, m.UpdatedAt).
		Suffix("RETURNING " + strings.Join(messageColumns, ", ")).
		ToSql()
	if err != nil {
		return Message{}, err
	}

	out, err := scanMessage(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503", "23514":
				// Unknown author, or a body the table constraint refuses.
				return Message{}, fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.ConstraintName)
			}
		}
		return Message{}, err
	}
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Message, error) {
	query, args, err := s.sb.Select(messageColumns...).
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

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.Content, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Message{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}
