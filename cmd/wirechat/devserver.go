package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-session/internal/app"
)

func newDevServerCommand(opts *rootOptions) *cobra.Command {
	var (
		addr     string
		inMemory bool
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the reference chat server for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg.DevServer
			if addr != "" {
				cfg.Addr = addr
			}
			if inMemory {
				cfg.DatabasePath = ""
			}

			application, err := app.New(cfg, opts.logger)
			if err != nil {
				return err
			}
			if err := application.Run(cmd.Context()); err != nil {
				return err
			}
			opts.logger.Info().Msg("dev server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides devserver.addr)")
	cmd.Flags().BoolVar(&inMemory, "memory", false, "do not persist messages")
	return cmd
}
