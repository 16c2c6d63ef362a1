package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/herald/internal/auth"
)

type tokenOptions struct {
	secret string
	userID string
	email  string
	ttl    time.Duration
}

func newTokenCmd() *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local development",
		Long: `Signs an access token with the server's JWT secret. Production clients
obtain tokens from POST /api/login instead.

The server also checks that the subject exists, so the user id must belong
to a registered user.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := opts.mint()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret (defaults to $JWT_SECRET)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id to place in the sub claim")
	cmd.Flags().StringVar(&opts.email, "email", "", "email to place in the token")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func (o *tokenOptions) mint() (string, error) {
	if o.secret == "" {
		return "", fmt.Errorf("--secret is required or set JWT_SECRET")
	}
	if o.userID == "" {
		return "", fmt.Errorf("--user is required")
	}
	if o.ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}
	return auth.NewJWTService(o.secret, o.ttl).GenerateToken(o.userID, o.email)
}
