package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
// A missing config file is created with the defaults.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("WIRECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, configPath, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_mode", cfg.LogMode)
	v.SetDefault("handshake_timeout", cfg.HandshakeTimeout)
	v.SetDefault("outbound_queue_size", cfg.OutboundQueueSize)
	v.SetDefault("send_buffer_size", cfg.SendBufferSize)
	v.SetDefault("message_cache_size", cfg.MessageCacheSize)

	v.SetDefault("reconnect.base_delay", cfg.Reconnect.BaseDelay)
	v.SetDefault("reconnect.max_delay", cfg.Reconnect.MaxDelay)
	v.SetDefault("reconnect.jitter", cfg.Reconnect.Jitter)

	v.SetDefault("typing.idle_timeout", cfg.Typing.IdleTimeout)
	v.SetDefault("typing.remote_expiry", cfg.Typing.RemoteExpiry)
	v.SetDefault("typing.sweep_interval", cfg.Typing.SweepInterval)

	v.SetDefault("devserver.addr", cfg.DevServer.Addr)
	v.SetDefault("devserver.jwt_secret", cfg.DevServer.JWTSecret)
	v.SetDefault("devserver.jwt_issuer", cfg.DevServer.JWTIssuer)
	v.SetDefault("devserver.jwt_audience", cfg.DevServer.JWTAudience)
	v.SetDefault("devserver.database_path", cfg.DevServer.DatabasePath)
	v.SetDefault("devserver.max_message_bytes", cfg.DevServer.MaxMessageBytes)
	v.SetDefault("devserver.messages_per_minute", cfg.DevServer.MessagesPerMinute)
	v.SetDefault("devserver.read_header_timeout", cfg.DevServer.ReadHeaderTimeout)
	v.SetDefault("devserver.shutdown_timeout", cfg.DevServer.ShutdownTimeout)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
