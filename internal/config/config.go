package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-session/internal/backoff"
	"github.com/vovakirdan/wirechat-session/internal/session"
	"github.com/vovakirdan/wirechat-session/internal/typing"
)

// Config holds client and dev server configuration values.
type Config struct {
	ServerURL         string          `mapstructure:"server_url" yaml:"server_url"`
	LogLevel          string          `mapstructure:"log_level" yaml:"log_level"`
	LogMode           string          `mapstructure:"log_mode" yaml:"log_mode"`
	HandshakeTimeout  time.Duration   `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	OutboundQueueSize int             `mapstructure:"outbound_queue_size" yaml:"outbound_queue_size"`
	SendBufferSize    int             `mapstructure:"send_buffer_size" yaml:"send_buffer_size"`
	MessageCacheSize  int             `mapstructure:"message_cache_size" yaml:"message_cache_size"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Typing            TypingConfig    `mapstructure:"typing" yaml:"typing"`
	DevServer         DevServerConfig `mapstructure:"devserver" yaml:"devserver"`
}

// ReconnectConfig tunes the reconnection backoff.
type ReconnectConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter    float64       `mapstructure:"jitter" yaml:"jitter"`
}

// TypingConfig tunes typing indicator timings.
type TypingConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	RemoteExpiry  time.Duration `mapstructure:"remote_expiry" yaml:"remote_expiry"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// DevServerConfig configures the reference server used for local testing.
type DevServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:         "ws://localhost:8080/ws",
		LogLevel:          "info",
		LogMode:           "simple",
		HandshakeTimeout:  session.DefaultHandshakeTimeout,
		OutboundQueueSize: 50,
		SendBufferSize:    session.DefaultSendBuffer,
		MessageCacheSize:  200,
		Reconnect: ReconnectConfig{
			BaseDelay: backoff.DefaultBase,
			MaxDelay:  backoff.DefaultCap,
			Jitter:    backoff.DefaultJitter,
		},
		Typing: TypingConfig{
			IdleTimeout:   typing.DefaultIdleTimeout,
			RemoteExpiry:  typing.DefaultRemoteExpiry,
			SweepInterval: typing.DefaultSweepInterval,
		},
		DevServer: DevServerConfig{
			Addr:              ":8080",
			JWTSecret:         "dev-secret-change-me",
			JWTIssuer:         "wirechat-dev",
			JWTAudience:       "wirechat",
			DatabasePath:      "wirechat-dev.db",
			MaxMessageBytes:   1 << 20,
			MessagesPerMinute: 120,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	if c.ServerURL != "" && !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		errs = append(errs, fmt.Errorf("server_url must use ws:// or wss://, got %q", c.ServerURL))
	}
	switch strings.ToLower(c.LogMode) {
	case "debug", "simple", "production":
	default:
		errs = append(errs, fmt.Errorf("log_mode must be debug, simple or production, got %q", c.LogMode))
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		errs = append(errs, errors.New("reconnect delays must satisfy 0 < base_delay <= max_delay"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("reconnect.jitter must be in [0, 1), got %v", c.Reconnect.Jitter))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("handshake_timeout must be positive"))
	}
	if c.OutboundQueueSize <= 0 || c.SendBufferSize <= 0 || c.MessageCacheSize <= 0 {
		errs = append(errs, errors.New("outbound_queue_size, send_buffer_size and message_cache_size must be positive"))
	}
	return errors.Join(errs...)
}

// Session converts the client settings into a session configuration.
func (c Config) Session() session.Config {
	return session.Config{
		Backoff: backoff.Config{
			Base:   c.Reconnect.BaseDelay,
			Cap:    c.Reconnect.MaxDelay,
			Jitter: c.Reconnect.Jitter,
		},
		HandshakeTimeout: c.HandshakeTimeout,
		Typing: typing.Config{
			IdleTimeout:   c.Typing.IdleTimeout,
			RemoteExpiry:  c.Typing.RemoteExpiry,
			SweepInterval: c.Typing.SweepInterval,
		},
		QueueSize:  c.OutboundQueueSize,
		SendBuffer: c.SendBufferSize,
		CacheSize:  c.MessageCacheSize,
	}
}
