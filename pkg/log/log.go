// Package log configures runcore's structured logger. The rest of the
// module logs through log/slog directly (slog.Info/Warn/Error with
// key-value attributes), the same style the teacher's controller and
// config packages use throughout; this package only owns the one-time
// handler setup that main wires in before anything else runs.
package log

import (
	"log/slog"
	"os"

	"github.com/runcore-labs/runcore/pkg/config"
)

// Setup builds a slog.Logger from a LogConfig and installs it as the
// process default, returning it so callers can also hold a direct
// reference.
func Setup(cfg config.LogConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
