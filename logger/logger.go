// Package logger builds the zerolog logger shared across the memory
// substrate, mirroring the teacher gateway's logger.New: one console
// writer, a global level derived from environment, a timestamped root
// logger that every component narrows with .With().Str("component", ...).
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a configured root logger. env controls verbosity:
// "development" logs at debug, anything else logs at info.
func New(env string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}
	lvl := zerolog.InfoLevel
	if env == "development" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Logger()
}

// Component narrows log to a named component, the pattern every tier,
// engine, and adapter constructor uses to tag its log lines.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
