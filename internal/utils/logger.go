package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a new configured logger. format "json" writes JSON lines,
// anything else writes human readable console output.
func NewLogger(level, format string) zerolog.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(w io.Writer, level, format string) zerolog.Logger {
	var out io.Writer = w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(logLevel).With().Timestamp().Logger()
}
