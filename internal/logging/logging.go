// Package logging initializes the process-wide zerolog logger. All
// diagnostics go to stderr so stdout stays clean for plan and report
// output.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment overrides, applied on top of the flag-provided level.
const (
	EnvLevel   = "PMT_LOG_LEVEL"
	EnvNoColor = "PMT_LOG_NOCOLOR"
)

// Init configures the global logger and returns the root logger for the
// tool. level accepts the zerolog level names; an unknown or empty value
// falls back to info.
func Init(level string) zerolog.Logger {
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    os.Getenv(EnvNoColor) != "",
	}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
