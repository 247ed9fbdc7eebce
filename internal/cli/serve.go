package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lesson-progress-tracker/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API",
		Long: `Builds every configured dependency, serves the session and progress
API and blocks until SIGINT or SIGTERM. Open sessions are ended on shutdown
so their final progress events are delivered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			return nil
		},
	}
}
