package tgd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewZeroLogger creates a console logger for interactive use.
func NewZeroLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NopLogger discards every event. It is the default for all components.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}
