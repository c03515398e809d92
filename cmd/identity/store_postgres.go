package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are quoted with pgx.Identifier.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	hasher Hasher
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "portal").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithHasher overrides the password hasher (default: DefaultHasher()).
func WithHasher(h Hasher) PostgresOption {
	return func(s *PostgresStore) error {
		if h == nil {
			return fmt.Errorf("identity: nil hasher")
		}
		s.hasher = h
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "portal",
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	if st.hasher == nil {
		st.hasher = DefaultHasher()
	}
	return st, nil
}

// Hasher exposes the configured hasher so sign-in verifies with the same parameters.
func (s *PostgresStore) Hasher() Hasher { return s.hasher }

// CreateUser creates the user, its credential and its profile in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := s.CreateUserTx(ctx, tx, in)
	if err != nil {
		return User{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUserTx is CreateUser inside a caller-owned transaction. The caller commits.
// Invitation acceptance uses it to create the account and close the invitation atomically.
func (s *PostgresStore) CreateUserTx(ctx context.Context, tx pgx.Tx, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if tx == nil {
		return User{}, invalid(op, "nil tx")
	}

	p, err := prepareUser(op, s.hasher, in)
	if err != nil {
		return User{}, err
	}
	u := p.user

	users := pgIdent(s.schema, "users")
	creds := pgIdent(s.schema, "user_credentials")
	profiles := pgIdent(s.schema, "profiles")

	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (id, email, email_norm, full_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.EmailNorm, u.FullName, u.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+creds+` (user_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		u.ID, p.hash, u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+profiles+` (id, full_name, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		u.ID, u.FullName, string(p.role), u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}

	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, invalid(op, "missing id")
	}

	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, email_norm, full_name, created_at
		   FROM `+users+`
		  WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.EmailNorm, &u.FullName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return UserAuth{}, invalid(op, "missing email")
	}

	users := pgIdent(s.schema, "users")
	creds := pgIdent(s.schema, "user_credentials")

	var ua UserAuth
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.email, u.email_norm, u.full_name, u.created_at, c.password_hash
		   FROM `+users+` u
		   JOIN `+creds+` c ON c.user_id = u.id
		  WHERE u.email_norm = $1`,
		norm,
	).Scan(&ua.ID, &ua.Email, &ua.EmailNorm, &ua.FullName, &ua.CreatedAt, &ua.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, err
	}
	ua.CreatedAt = ua.CreatedAt.UTC()
	return ua, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(userID) == "" || hash == "" {
		return invalid(op, "missing user_id or hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	creds := pgIdent(s.schema, "user_credentials")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+creds+` SET password_hash = $2, updated_at = $3 WHERE user_id = $1`,
		userID, hash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "credential"}
	}
	return nil
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
