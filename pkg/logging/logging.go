// Package logging configures colored structured logging with tint.
//
// Usage:
//
//	logging.Setup()                          // level from LOG_LEVEL env
//	logging.SetupWithLevel(slog.LevelDebug)  // explicit level override
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures colored logging at the level specified by LOG_LEVEL
// (default: INFO) and returns the new default logger.
func Setup() *slog.Logger {
	return SetupWithLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// SetupWithLevel configures colored logging at the given level.
func SetupWithLevel(level slog.Level) *slog.Logger {
	logger := New(os.Stderr, level)
	slog.SetDefault(logger)
	return logger
}

// New builds a tint logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  level == slog.LevelDebug,
		NoColor:    w != os.Stderr && w != os.Stdout,
	}))
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values are INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
