// Package cli defines the commands of the tracker executable.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lesson-progress-tracker/internal/config"
)

type configKeyType string

const configKey configKeyType = "config"

// loadConfig is swapped out in tests.
var loadConfig = config.Load

// newRootCmd creates the root command. Configuration is loaded once before
// any subcommand runs and handed over through the command context.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Tracks how much of each course video a learner actually watched.",
		Long: `tracker runs the lesson progress service. It turns player position
samples into watch-time estimates, marks lessons complete once enough of the
video has been seen, and fans the resulting progress events out to the
configured stores and topics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (env TRACKER_* overrides)")

	cmd.AddCommand(newServeCmd(), newTokenCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not loaded")
	}
	return cfg, nil
}

// Execute runs the root command against os.Args.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(1)
	}
}
