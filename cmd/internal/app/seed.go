package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portal/cmd/identity"
	"portal/cmd/internal/profile"
	"portal/cmd/security/password"
)

// seedAdmin creates the bootstrap admin of an in-memory run from
// PORTAL_ADMIN_EMAIL and PORTAL_ADMIN_PASSWORD, so a DB-less server has an
// account to sign in with. It never runs against a database.
func seedAdmin(ctx context.Context, cfg Config, st backends, pw password.Config, log Logger) error {
	email := strings.TrimSpace(cfg.SeedAdminEmail)
	if st.dbEnabled() {
		if email != "" {
			log.Warn("auth.admin.seed_ignored", "hint", "use `portal admin create` with a database")
		}
		return nil
	}
	if email == "" {
		log.Warn("auth.admin.unseeded", "hint", "set PORTAL_ADMIN_EMAIL and PORTAL_ADMIN_PASSWORD to sign in")
		return nil
	}
	if cfg.SeedAdminPassword == "" {
		return errors.New("config: PORTAL_ADMIN_PASSWORD is required with PORTAL_ADMIN_EMAIL")
	}
	if err := pw.Validate(cfg.SeedAdminPassword); err != nil {
		return fmt.Errorf("config: admin password: %w", err)
	}

	var fullName *string
	if n := strings.TrimSpace(cfg.SeedAdminName); n != "" {
		fullName = &n
	}
	u, err := st.users.CreateUser(ctx, identity.CreateUserInput{
		Email:    email,
		Password: cfg.SeedAdminPassword,
		FullName: fullName,
		Role:     profile.RoleAdmin,
		Now:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	log.Info("auth.admin.seeded", "user_id", u.ID, "email", u.Email)
	return nil
}
