package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/noah-isme/konnect-pay/internal/auth"
	"github.com/noah-isme/konnect-pay/internal/obs"
)

// optoken mints a bearer token for the support lookup endpoint.
func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "optoken").Logger()

	var ttl time.Duration
	cmd := &cobra.Command{
		Use:          "optoken <subject>",
		Short:        "Issue an operator token signed with ADMIN_JWT_SECRET",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := auth.NewTokens(os.Getenv("ADMIN_JWT_SECRET"),
				strings.TrimSpace(os.Getenv("ADMIN_JWT_ISSUER")),
				strings.TrimSpace(os.Getenv("ADMIN_JWT_AUDIENCE")))
			if tokens == nil {
				return fmt.Errorf("ADMIN_JWT_SECRET is not set")
			}
			signed, err := tokens.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	if err := cmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("issue token")
		os.Exit(1)
	}
}
