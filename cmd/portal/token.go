package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/airfi/airfi-portal/internal/auth"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the portal keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			r := auth.Role(role)
			if r != auth.RoleUser && r != auth.RoleOperator {
				return fmt.Errorf("unknown role %q (want user or operator)", role)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.UserTokenTTL
				if r == auth.RoleOperator {
					ttl = cfg.Auth.OperatorTokenTTL
				}
			}

			keyPair, err := auth.LoadOrGenerateKeyPair(cfg.Auth.KeysDir)
			if err != nil {
				return fmt.Errorf("failed to initialize JWT keys: %w", err)
			}
			token, expiresAt, err := auth.NewJWTService(keyPair, cfg.Auth.Issuer).IssueToken(userID, r, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject (user ID or operator name)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "user or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for auth.operator_password_hash",
		Long:  "Print a bcrypt hash for auth.operator_password_hash. Reads the password from stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
