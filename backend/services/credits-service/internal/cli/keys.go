package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"storyforge/backend/libs/auth"
)

const jwtSecretEnv = "JWT_SECRET"

func newTokenCommand() *cobra.Command {
	var (
		userID string
		role   string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a gateway bearer token for testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(jwtSecretEnv)
			}
			if secret == "" {
				return fmt.Errorf("creditsctl: --secret or %s required", jwtSecretEnv)
			}
			token, err := auth.NewTokenService(secret, ttl).GenerateToken(userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id claim")
	cmd.Flags().StringVar(&role, "role", "", "Role claim (admin for admin endpoints)")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret (defaults to $"+jwtSecretEnv+")")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHashKeyCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-key KEY",
		Short: "Hash a service key for CREDITS_SERVICE_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[0]) < 16 {
				return errors.New("creditsctl: service keys must be at least 16 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return fmt.Errorf("creditsctl: hash key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
