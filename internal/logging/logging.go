// Package logging wires up the process-wide zerolog logger with console or
// JSON output. It adds no message prefix and no fields beyond a timestamp;
// callers attach any structured fields themselves.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger for the given format
// ("console" or "json") and returns it. Call once at process startup.
func Init(format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writer = os.Stderr
	var out zerolog.ConsoleWriter

	var logger zerolog.Logger
	if strings.EqualFold(format, "json") {
		logger = zerolog.New(writer).With().Timestamp().Logger()
	} else {
		out = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
		logger = zerolog.New(out).With().Timestamp().Logger()
	}

	zerolog.DefaultContextLogger = &logger
	return logger
}

// WithComponent returns a child logger tagged with a "component" field,
// e.g. "keba-agent", so every log line written through it carries that
// name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
