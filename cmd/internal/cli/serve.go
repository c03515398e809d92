package cli

import (
	"github.com/spf13/cobra"

	"portal/cmd/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  `Run the HTTP server. Configuration comes from PORTAL_* environment variables.`,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run()
		},
	}
}
