// Package migrations embeds the SQL schema and opens goose providers over it.
//
// The SQL files use unqualified table names. The schema is selected through the
// connection's search_path, so the same files serve production ("portal") and
// the per-test schemas used by integration tests.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var EmbedMigrations embed.FS

// OpenDB opens a database/sql handle whose search_path is pinned to schema.
// The schema is created if it does not exist.
func OpenDB(ctx context.Context, dsn, schema string) (*sql.DB, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("migrations: parse dsn: %w", err)
	}

	db := stdlib.OpenDB(*config)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: create schema: %w", err)
	}
	_ = db.Close()

	if config.RuntimeParams == nil {
		config.RuntimeParams = map[string]string{}
	}
	config.RuntimeParams["search_path"] = schema

	db = stdlib.OpenDB(*config)
	// search_path is per connection; a single connection keeps goose's session consistent.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewProvider returns a goose provider over the embedded migrations.
func NewProvider(db *sql.DB, opts ...goose.ProviderOption) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, db, EmbedMigrations, opts...)
	if err != nil {
		return nil, fmt.Errorf("migrations: goose provider: %w", err)
	}
	return p, nil
}

// Up applies every pending migration into schema.
func Up(ctx context.Context, dsn, schema string, opts ...goose.ProviderOption) ([]*goose.MigrationResult, error) {
	db, err := OpenDB(ctx, dsn, schema)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	p, err := NewProvider(db, opts...)
	if err != nil {
		return nil, err
	}
	return p.Up(ctx)
}
