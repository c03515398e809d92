package invite

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"portal/cmd/identity"
)

// TxAccountCreator creates an account inside a caller-owned transaction.
// *identity.PostgresStore satisfies it.
type TxAccountCreator interface {
	CreateUserTx(ctx context.Context, tx pgx.Tx, in identity.CreateUserInput) (identity.User, error)
}

// PostgresStore persists invitations in PostgreSQL.
type PostgresStore struct {
	pool     *pgxpool.Pool
	accounts TxAccountCreator
	schema   string
	sb       sq.StatementBuilderType
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default: "portal").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, accounts TxAccountCreator, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:     pool,
		accounts: accounts,
		schema:   "portal",
		sb:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil || st.accounts == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

const invitationColumns = `id, email, created_by, created_at, expires_at, accepted, accepted_at`

// Create inserts a new invitation record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.Email) == "" {
		return Invitation{}, ErrInvalidInput
	}

	invitations := pgIdent(s.schema, "invitations")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+invitations+` (
		     id, email, token_hash, created_by, created_at, expires_at, accepted, accepted_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, false, NULL)`,
		in.ID,
		in.Email,
		in.TokenHash,
		in.CreatedBy,
		in.CreatedAt,
		in.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "token_hash") {
			return Invitation{}, ErrTokenConflict
		}
		return Invitation{}, err
	}

	return Invitation{
		ID:        in.ID,
		Email:     in.Email,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}, nil
}

// GetOpenByTokenHash fetches an unaccepted invitation by token hash.
func (s *PostgresStore) GetOpenByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invitation{}, ErrInvalidInput
	}

	invitations := pgIdent(s.schema, "invitations")
	out, err := scanInvitation(s.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+`
		   FROM `+invitations+`
		  WHERE token_hash = $1 AND accepted = false`,
		tokenHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, ErrNotFound
		}
		return Invitation{}, err
	}
	return out, nil
}

// List returns all invitations, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]Invitation, error) {
	query, args, err := s.sb.Select(invitationColumns).
		From(pgIdent(s.schema, "invitations")).
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

	out := make([]Invitation, 0, 16)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Accept creates the account and closes the invitation in one transaction.
// The invitation row is locked first, so concurrent submissions serialize on it.
func (s *PostgresStore) Accept(ctx context.Context, in AcceptRecord) (Invitation, identity.User, error) {
	if strings.TrimSpace(in.ID) == "" {
		return Invitation{}, identity.User{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Invitation{}, identity.User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	invitations := pgIdent(s.schema, "invitations")

	var (
		accepted  bool
		expiresAt time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT accepted, expires_at FROM `+invitations+` WHERE id = $1 FOR UPDATE`,
		in.ID,
	).Scan(&accepted, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, identity.User{}, ErrNotFound
		}
		return Invitation{}, identity.User{}, err
	}
	if accepted || expiresAt.Before(in.Now) {
		return Invitation{}, identity.User{}, ErrNotActive
	}

	user, err := s.accounts.CreateUserTx(ctx, tx, in.Account)
	if err != nil {
		return Invitation{}, identity.User{}, err
	}

	inv, err := scanInvitation(tx.QueryRow(ctx,
		`UPDATE `+invitations+`
		    SET accepted = true,
		        accepted_at = $2
		  WHERE id = $1
		    AND accepted = false
		    AND expires_at >= $2
		RETURNING `+invitationColumns,
		in.ID,
		in.Now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, identity.User{}, ErrNotActive
		}
		return Invitation{}, identity.User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Invitation{}, identity.User{}, err
	}
	return inv, user, nil
}

func scanInvitation(row pgx.Row) (Invitation, error) {
	var out Invitation
	err := row.Scan(
		&out.ID,
		&out.Email,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.Accepted,
		&out.AcceptedAt,
	)
	if err != nil {
		return Invitation{}, err
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.ExpiresAt = out.ExpiresAt.UTC()
	if out.AcceptedAt != nil {
		t := out.AcceptedAt.UTC()
		out.AcceptedAt = &t
	}
	return out, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
