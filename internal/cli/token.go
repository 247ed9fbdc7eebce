package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lesson-progress-tracker/internal/auth"
)

// newTokenCmd signs a bearer token with the configured secret. It exists for
// local testing against an API that has auth enabled.
func newTokenCmd() *cobra.Command {
	var (
		learner string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Prints a signed bearer token for a learner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if strings.TrimSpace(learner) == "" {
				return errors.New("--learner is required")
			}
			verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			token, err := verifier.Sign(learner, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err //nolint:wrapcheck // stdout write
		},
	}
	cmd.Flags().StringVar(&learner, "learner", "", "learner id or email to embed")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
