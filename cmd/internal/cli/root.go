// Package cli is the portal command line: serve, migrate and admin bootstrap.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Invite-only portal server",
		Long:          `portal serves the invite-only dashboard, runs its migrations and bootstraps admins.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newAdminCmd())
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
