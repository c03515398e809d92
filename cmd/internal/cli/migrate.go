package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"portal/migrations"
)

var errPendingMigrations = errors.New("pending migrations")

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down [version]|status|check]",
		Short: "Run database migrations",
		Long: `Run database migrations against the schema given by --schema.

With no argument, "up" is assumed. "down" rolls back one migration, or down to
the given version.`,
		Args: migrateArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			command, version := parseMigrateArgs(args)

			dsn, _ := cmd.Flags().GetString("dsn")
			schema, _ := cmd.Flags().GetString("schema")
			format, _ := cmd.Flags().GetString("format")
			if dsn == "" {
				return errors.New("--dsn or PORTAL_DATABASE_URL is required")
			}
			return migrate(cmd.Context(), dsn, schema, command, format, version, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("dsn", os.Getenv("PORTAL_DATABASE_URL"), "PostgreSQL DSN connection string")
	cmd.Flags().String("schema", envOr("PORTAL_DB_SCHEMA", "portal"), "Postgres schema to migrate")
	cmd.Flags().StringP("format", "f", "text", "Output format (text or json)")
	return cmd
}

func migrateArgs(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 2 {
		return fmt.Errorf("accepts at most 2 arg(s), received %d", len(args))
	}

	switch args[0] {
	case "up", "down", "status", "check":
	default:
		return fmt.Errorf("invalid first argument: %q", args[0])
	}

	if len(args) == 2 {
		if args[0] != "down" {
			return fmt.Errorf("invalid argument combination: %q", args)
		}
		if v, err := strconv.Atoi(args[1]); err != nil || v < 0 {
			return fmt.Errorf("invalid version number: %q", args[1])
		}
	}
	return nil
}

// parseMigrateArgs assumes migrateArgs already accepted args. version is -1 when absent.
func parseMigrateArgs(args []string) (string, int) {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	version := -1
	if len(args) > 1 {
		version, _ = strconv.Atoi(args[1])
	}
	return command, version
}

func migrate(ctx context.Context, dsn, schema, command, format string, version int, out io.Writer) error {
	db, err := migrations.OpenDB(ctx, dsn, schema)
	if err != nil {
		return err
	}
	defer db.Close()

	var opts []goose.ProviderOption
	if format == "json" {
		opts = append(opts, goose.WithLogger(goose.NopLogger()))
	}
	provider, err := migrations.NewProvider(db, opts...)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}
		return printResults(out, format, results)
	case "down":
		var results []*goose.MigrationResult
		if version < 0 {
			res, err := provider.Down(ctx)
			if err != nil {
				return err
			}
			results = append(results, res)
		} else {
			results, err = provider.DownTo(ctx, int64(version))
			if err != nil {
				return err
			}
		}
		return printResults(out, format, results)
	case "status":
		return printStatus(ctx, provider, format, out)
	case "check":
		pending, err := provider.HasPending(ctx)
		if err != nil {
			return fmt.Errorf("check pending migrations: %w", err)
		}
		if format == "json" {
			if err := json.NewEncoder(out).Encode(map[string]bool{"pending": pending}); err != nil {
				return err
			}
		} else if !pending {
			fmt.Fprintln(out, "schema is up to date")
		}
		if pending {
			return errPendingMigrations
		}
		return nil
	}
	return fmt.Errorf("unknown migrate command %q", command)
}

func printResults(out io.Writer, format string, results []*goose.MigrationResult) error {
	if format == "json" {
		if results == nil {
			results = []*goose.MigrationResult{}
		}
		return json.NewEncoder(out).Encode(map[string]any{"applied": results})
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no migrations to apply")
		return nil
	}
	for _, r := range results {
		fmt.Fprintln(out, r.String())
	}
	return nil
}

func printStatus(ctx context.Context, provider *goose.Provider, format string, out io.Writer) error {
	statuses, err := provider.Status(ctx)
	if err != nil {
		return err
	}
	if format == "json" {
		return json.NewEncoder(out).Encode(statuses)
	}

	fmt.Fprintln(out, "    Applied At                  Migration")
	fmt.Fprintln(out, "    =======================================")
	for _, s := range statuses {
		appliedAt := "Pending"
		if s.State == goose.StateApplied {
			appliedAt = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "    %-24s -- %s\n", appliedAt, s.Source.Path)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
