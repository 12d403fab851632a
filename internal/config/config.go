// Package config loads CLASP router configuration from environment
// variables (with an optional .env file for local development).
//
// Grounded almost directly on ws/config.go's caarlos0/env + godotenv
// load-then-validate shape; fields are renamed/expanded to the option set
// spec.md §6 enumerates.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// EvictionStrategy names a State Store capacity-eviction policy
// (spec.md §4.5).
type EvictionStrategy string

const (
	EvictionLRU       EvictionStrategy = "lru"
	EvictionOldest    EvictionStrategy = "oldest"
	EvictionRejectNew EvictionStrategy = "reject_new"
)

// AuthMode names the HELLO authorization requirement (spec.md §6).
type AuthMode string

const (
	AuthOff           AuthMode = "off"
	AuthTokenRequired AuthMode = "token_required"
)

// Config holds every configurable option named in spec.md §6, plus the
// ambient fields (logging, metrics, resource thresholds) the teacher
// always carries alongside its domain config.
type Config struct {
	// Wire-protocol options (spec.md §6)
	WSPort      int    `env:"CLASP_WS_PORT" envDefault:"7330"`
	QUICPort    int    `env:"CLASP_QUIC_PORT" envDefault:"0"` // accepted, unused: only WebSocket is implemented
	Host        string `env:"CLASP_HOST" envDefault:"0.0.0.0"`
	Name        string `env:"CLASP_NAME" envDefault:"clasp-router"`
	FrameMaxBytes int  `env:"CLASP_FRAME_MAX_BYTES" envDefault:"67108864"` // 64 MiB

	// Session/capacity
	MaxSessions        int `env:"CLASP_MAX_SESSIONS" envDefault:"10000"`
	SessionTimeoutSecs int `env:"CLASP_SESSION_TIMEOUT_SECS" envDefault:"30"`

	// State store
	ParamTTLSecs     int              `env:"CLASP_PARAM_TTL_SECS" envDefault:"0"`
	SignalTTLSecs    int              `env:"CLASP_SIGNAL_TTL_SECS" envDefault:"0"`
	NoTTL            bool             `env:"CLASP_NO_TTL" envDefault:"false"`
	MaxParams        int              `env:"CLASP_MAX_PARAMS" envDefault:"1000000"`
	EvictionStrategy EvictionStrategy `env:"CLASP_EVICTION_STRATEGY" envDefault:"lru"`

	// Auth
	Auth      AuthMode `env:"CLASP_AUTH" envDefault:"off"`
	JWTSecret string   `env:"CLASP_JWT_SECRET" envDefault:""`

	// Persistence / journal (internal/hooks.Persistence, spec.md §1/§6)
	PersistPath         string `env:"CLASP_PERSIST_PATH" envDefault:""`
	PersistIntervalSecs int    `env:"CLASP_PERSIST_INTERVAL_SECS" envDefault:"5"`
	JournalPath         string `env:"CLASP_JOURNAL_PATH" envDefault:""`
	KafkaBrokers        string `env:"CLASP_KAFKA_BROKERS" envDefault:""`
	PersistRequired     bool   `env:"CLASP_PERSIST_REQUIRED" envDefault:"false"`

	// Discovery / announce plane (optional, spec.md §1)
	NATSURL          string `env:"CLASP_NATS_URL" envDefault:""`
	AnnounceSubject  string `env:"CLASP_ANNOUNCE_SUBJECT" envDefault:"clasp.announce"`

	// Lifecycle
	DrainTimeoutSecs int `env:"CLASP_DRAIN_TIMEOUT_SECS" envDefault:"30"`

	// Dispatcher sharding
	NumShards int `env:"CLASP_NUM_SHARDS" envDefault:"0"` // 0 = 32 shards (dispatcher and state store default)

	// Resource thresholds (ambient stack, grounded on ResourceGuard)
	MaxGoroutines      int     `env:"CLASP_MAX_GOROUTINES" envDefault:"100000"`
	CPURejectThreshold float64 `env:"CLASP_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"CLASP_CPU_PAUSE_THRESHOLD" envDefault:"90.0"`
	MetricsInterval    time.Duration `env:"CLASP_METRICS_INTERVAL" envDefault:"15s"`
	MetricsAddr        string        `env:"CLASP_METRICS_ADDR" envDefault:":7332"`

	// Logging
	LogLevel  string `env:"CLASP_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CLASP_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"CLASP_ENV" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and environment
// variables, applying defaults, then validates the result.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internally inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("CLASP_WS_PORT must be 1-65535, got %d", c.WSPort)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("CLASP_MAX_SESSIONS must be > 0, got %d", c.MaxSessions)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("CLASP_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("CLASP_CPU_PAUSE_THRESHOLD (%.1f) must be >= CLASP_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	switch c.EvictionStrategy {
	case EvictionLRU, EvictionOldest, EvictionRejectNew:
	default:
		return fmt.Errorf("CLASP_EVICTION_STRATEGY must be one of lru, oldest, reject_new (got %s)", c.EvictionStrategy)
	}
	switch c.Auth {
	case AuthOff, AuthTokenRequired:
	default:
		return fmt.Errorf("CLASP_AUTH must be one of off, token_required (got %s)", c.Auth)
	}
	if c.Auth == AuthTokenRequired && c.JWTSecret == "" {
		return fmt.Errorf("CLASP_JWT_SECRET is required when CLASP_AUTH=token_required")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("CLASP_LOG_LEVEL must be one of debug, info, warn, error, fatal (got %s)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("CLASP_LOG_FORMAT must be one of json, pretty (got %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the loaded configuration once at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Int("ws_port", c.WSPort).
		Str("host", c.Host).
		Int("max_sessions", c.MaxSessions).
		Int("max_params", c.MaxParams).
		Str("eviction_strategy", string(c.EvictionStrategy)).
		Str("auth", string(c.Auth)).
		Bool("persist_required", c.PersistRequired).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("router configuration loaded")
}
