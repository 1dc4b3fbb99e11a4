package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-session/internal/auth"
	transporthttp "github.com/vovakirdan/wirechat-session/internal/transport/http"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		userID string
		name   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a token accepted by the dev server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := mintToken(opts, userID, name, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func mintToken(opts *rootOptions, userID, name string, ttl time.Duration) (string, error) {
	jwtCfg := transporthttp.JWTConfig(opts.cfg.DevServer)
	jwtCfg.TTL = ttl
	token, err := auth.GenerateToken(jwtCfg, userID, name)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}
