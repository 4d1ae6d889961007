package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel parses a log level name (case-insensitive). Unknown names fall
// back to info and report ok=false.
func ParseLevel(name string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewJSONHandler creates a JSON sink writing to out at the given level.
func NewJSONHandler(out io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
}

// Setup creates the application logger and installs it as the slog default.
// The local stdout sink is always present; extra sinks are added alongside it.
func Setup(levelName string, extra ...slog.Handler) *slog.Logger {
	level, ok := ParseLevel(levelName)

	handlers := append([]slog.Handler{NewJSONHandler(os.Stdout, level)}, extra...)
	logger := New(handlers...)

	if !ok {
		logger.Warn("invalid log level configured, using default level",
			"configured_level", levelName,
			"default_level", "info")
	}

	slog.SetDefault(logger)
	return logger
}

// New returns a logger writing to every handler. With a single handler no
// fan-out wrapper is added.
func New(handlers ...slog.Handler) *slog.Logger {
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(NewFanoutHandler(handlers...))
}
