package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Modes select how much diagnostics a process emits and in which format.
const (
	// ModeDebug writes human-readable output at trace level, including raw frames.
	ModeDebug = "debug"
	// ModeSimple writes human-readable output at the configured level.
	ModeSimple = "simple"
	// ModeProduction writes JSON lines at the configured level.
	ModeProduction = "production"
)

// New builds a zerolog logger with the given level string (debug, info, warn, error)
// and mode (debug, simple, production).
func New(level, mode string) *zerolog.Logger {
	return NewWithWriter(os.Stdout, level, mode)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, mode string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl := parseLevel(level)
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	switch strings.ToLower(mode) {
	case ModeDebug:
		lvl = zerolog.TraceLevel
	case ModeProduction:
		out = w
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return &logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
