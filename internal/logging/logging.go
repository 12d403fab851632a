// Package logging sets up the router's structured logger and the
// goroutine panic-recovery helper every long-lived task (session pumps,
// dispatcher shards, TTL sweep, bundle scheduler, persistence writer)
// defers.
//
// Grounded almost verbatim on ws/internal/shared/monitoring/logger.go.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

type Config struct {
	Level  Level
	Format Format
}

// New creates a structured zerolog.Logger: JSON output by default
// (ingestible by a log aggregator), pretty console output for local
// development, timestamp + caller on every entry.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	case LevelFatal:
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().Timestamp().Caller().Str("service", "claspd").Logger()
}

// RecoverPanic recovers a panic in the deferring goroutine, logs it with a
// full stack trace, and lets the goroutine's cleanup path continue
// instead of crashing the process. Use in every long-lived task's first
// defer.
func RecoverPanic(logger zerolog.Logger, task string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("task", task).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
