package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-chat-hub/internal/config"
	"github.com/weiawesome/wes-chat-hub/internal/moderation"
)

var (
	username   string
	configPath string
	configName string
	ttl        time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "modtoken",
		Short: "Issue a moderator token for the chat hub",
		RunE:  issue,
	}

	rootCmd.Flags().StringVarP(&username, "username", "u", "", "username the token is bound to (required)")
	rootCmd.Flags().StringVar(&configPath, "config-path", "./config", "directory holding the hub configuration")
	rootCmd.Flags().StringVar(&configName, "config-name", "config", "configuration file name without extension")
	rootCmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to moderation.token_ttl)")
	rootCmd.MarkFlagRequired("username")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func issue(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFrom(configPath, configName)
	if err != nil {
		return err
	}
	if !cfg.Moderation.Enabled() {
		return fmt.Errorf("moderation.jwt_secret is not set")
	}

	lifetime := cfg.Moderation.TokenTTL
	if ttl > 0 {
		lifetime = ttl
	}

	mgr := moderation.NewManager(cfg.Moderation.JWTSecret, cfg.Moderation.Issuer, lifetime)
	token, expiresAt, err := mgr.Issue(username)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
