// Package logging builds the process logger. Logs go to stderr so command
// output on stdout stays machine readable.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configure builds a zerolog logger from config values.
func Configure(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format)
}

// New builds a logger writing to out. Unknown levels fall back to info.
func New(out io.Writer, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Str("component", "svault").Logger()
}
