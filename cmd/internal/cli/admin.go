package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"portal/cmd/identity"
	"portal/cmd/internal/profile"
	"portal/cmd/security/password"
)

// adminPasswordEnv keeps the password out of shell history and process listings.
const adminPasswordEnv = "PORTAL_ADMIN_PASSWORD"

type adminInput struct {
	Email    string
	FullName string
	Password string
}

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	cmd.AddCommand(newAdminCreateCmd())
	return cmd
}

func newAdminCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		Long: `Create an account with the admin role. This is the only way to grant admin.

The password is read from ` + adminPasswordEnv + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, _ := cmd.Flags().GetString("dsn")
			schema, _ := cmd.Flags().GetString("schema")
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")

			if dsn == "" {
				return errors.New("--dsn or PORTAL_DATABASE_URL is required")
			}

			pw, err := password.FromEnv()
			if err != nil {
				return err
			}
			in := adminInput{Email: email, FullName: name, Password: os.Getenv(adminPasswordEnv)}
			if err := validateAdminInput(in, pw); err != nil {
				return err
			}

			pool, err := pgxpool.New(cmd.Context(), dsn)
			if err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer pool.Close()

			users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema), identity.WithHasher(pw))
			if err != nil {
				return err
			}
			return createAdmin(cmd.Context(), users, in, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("dsn", os.Getenv("PORTAL_DATABASE_URL"), "PostgreSQL DSN connection string")
	cmd.Flags().String("schema", envOr("PORTAL_DB_SCHEMA", "portal"), "Postgres schema")
	cmd.Flags().String("email", "", "Admin email")
	cmd.Flags().String("name", "", "Admin full name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func validateAdminInput(in adminInput, pw password.Config) error {
	if strings.TrimSpace(in.Email) == "" {
		return errors.New("--email is required")
	}
	if in.Password == "" {
		return fmt.Errorf("%s is required", adminPasswordEnv)
	}
	if err := pw.Validate(in.Password); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}
	return nil
}

type userCreator interface {
	CreateUser(ctx context.Context, in identity.CreateUserInput) (identity.User, error)
}

func createAdmin(ctx context.Context, users userCreator, in adminInput, out io.Writer) error {
	var fullName *string
	if n := strings.TrimSpace(in.FullName); n != "" {
		fullName = &n
	}

	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Email:    in.Email,
		Password: in.Password,
		FullName: fullName,
		Role:     profile.RoleAdmin,
		Now:      time.Now().UTC(),
	})
	if err != nil {
		if identity.IsConflict(err) {
			return fmt.Errorf("an account with email %s already exists", identity.NormalizeEmail(in.Email))
		}
		return err
	}
	fmt.Fprintf(out, "admin created: id=%s email=%s\n", u.ID, u.Email)
	return nil
}
