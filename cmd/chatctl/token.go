package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"playmate-chat/services"
)

var (
	tokenSecret string
	tokenTTL    time.Duration
	tokenSave   bool
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (defaults to auth.secret)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token and user id in the config file")
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a development session token",
	Long:  "Sign a session token with the server's JWT secret. Production tokens come from the auth service.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		secret := tokenSecret
		if secret == "" {
			secret = cfg.Auth.Secret
		}
		if secret == "" {
			return fmt.Errorf("no signing secret, pass --secret or set auth.secret")
		}

		tok, err := services.NewTokenVerifier(secret).GenerateToken(args[0], tokenTTL)
		if err != nil {
			return err
		}
		if tokenSave {
			cfg.Auth.Token = tok
			cfg.Auth.UserID = args[0]
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
