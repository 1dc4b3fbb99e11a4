// Command wirechat runs a realtime chat session against a server, or the
// reference dev server itself.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-session/internal/config"
	"github.com/vovakirdan/wirechat-session/internal/log"
)

type rootOptions struct {
	configPath string
	cfg        config.Config
	logger     *zerolog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "wirechat",
		Short:         "Realtime chat session client and dev server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := log.New("info", log.ModeSimple)
			if err := godotenv.Load(); err != nil {
				bootLogger.Debug().Err(err).Msg("no .env file loaded, using process environment")
			}

			cfg, path, err := config.Load(bootLogger, opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = log.New(cfg.LogLevel, cfg.LogMode)
			opts.logger.Debug().Str("config", path).Msg("configuration loaded")
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default: $WIRECHAT_CONFIG_DEFAULT_PATH or ./config.yaml)")

	cmd.AddCommand(
		newDevServerCommand(opts),
		newConnectCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.New("info", log.ModeSimple).Error().Err(err).Msg("wirechat exited with error")
		os.Exit(1)
	}
}
