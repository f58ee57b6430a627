package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultPingInterval         = 20 * time.Second
	DefaultIdleTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 1 * time.Second
)

// Config holds the process configuration. Values come from environment
// variables (struct tags below); the common knobs can additionally be
// overridden with command-line flags, which take precedence.
type Config struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8080"`
	LogFormatRaw    string        `envconfig:"LOG_FORMAT" default:"text"`
	LogLevelRaw     string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	// AllowedOrigins restricts which browser origins may open the signaling
	// WebSocket. Empty means allow all, for deployments behind a trusted
	// front.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// Signaling WebSocket hardening.
	MaxMessageBytes      int64         `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	MaxMessagesPerSecond int           `envconfig:"MAX_MESSAGES_PER_SECOND" default:"50"`
	PingInterval         time.Duration `envconfig:"PING_INTERVAL" default:"20s"`
	IdleTimeout          time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	WriteTimeout         time.Duration `envconfig:"WRITE_TIMEOUT" default:"1s"`

	LogFormat LogFormat  `ignored:"true"`
	LogLevel  slog.Level `ignored:"true"`
}

// Load reads configuration from the environment, applies flag overrides from
// args, and validates the result.
func Load(args []string) (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("signaling-relay", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address (env LISTEN_ADDR)")
	fs.StringVar(&cfg.LogFormatRaw, "log-format", cfg.LogFormatRaw, "Log format: text or json (env LOG_FORMAT)")
	fs.StringVar(&cfg.LogLevelRaw, "log-level", cfg.LogLevelRaw, "Log level: debug, info, warn or error (env LOG_LEVEL)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout (env SHUTDOWN_TIMEOUT)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	switch strings.ToLower(strings.TrimSpace(c.LogFormatRaw)) {
	case string(LogFormatText), "":
		c.LogFormat = LogFormatText
	case string(LogFormatJSON):
		c.LogFormat = LogFormatJSON
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q (want text or json)", c.LogFormatRaw)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevelRaw))); err != nil {
		return fmt.Errorf("unsupported LOG_LEVEL %q: %w", c.LogLevelRaw, err)
	}
	c.LogLevel = lvl

	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be > 0")
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("MAX_MESSAGES_PER_SECOND must be > 0")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be > 0")
	}
	if c.IdleTimeout <= c.PingInterval {
		return fmt.Errorf("IDLE_TIMEOUT must be > PING_INTERVAL")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be > 0")
	}
	for _, o := range c.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("ALLOWED_ORIGINS must not contain empty entries")
		}
	}
	return nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}
