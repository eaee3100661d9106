package logging

import (
	"log/slog"
	"os"
	"strings"
)

var logger *slog.Logger

func init() {
	InitLogger("info")
}

// ParseLevel maps a config level name to a slog level. Unknown names fall
// back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// InitLogger initializes the global logger with the specified level
func InitLogger(level string) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// GetLogger returns the global logger instance
func GetLogger() *slog.Logger {
	return logger
}

// ForSession returns the global logger tagged with a liveness session id.
func ForSession(sessionId string) *slog.Logger {
	return logger.With("session_id", sessionId)
}
