// Package logging provides the structured logger used throughout syncr.
// Level is controlled by the LOG_LEVEL environment variable (§6.8), defaulting to INFO.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Get returns the process-wide logger, initializing it from LOG_LEVEL on first use.
func Get() *slog.Logger {
	once.Do(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: levelFromEnv(),
		}))
	})
	return logger
}

// Named returns a logger scoped to a component name.
func Named(component string) *slog.Logger {
	return Get().With("component", component)
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "", "INFO":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
