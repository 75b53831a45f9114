// Package logging configures structured logging with log/slog.
//
// Usage:
//
//	logging.Setup()     // colored tint output, level from LOG_LEVEL
//	logging.SetupJSON() // JSON output for server deployments
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info)
//	LOG_FORMAT: json forces JSON output even from Setup
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures colored logging at the level specified by LOG_LEVEL
// (default: INFO). LOG_FORMAT=json switches to JSON output.
func Setup() {
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		SetupJSON()
		return
	}
	SetupWithLevel(levelFromEnv())
}

// SetupWithLevel configures colored logging at the given level.
func SetupWithLevel(level slog.Level) {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}),
	))
}

// SetupJSON configures JSON logging at the level specified by
// LOG_LEVEL, for deployments where logs are shipped, not read.
func SetupJSON() {
	slog.SetDefault(slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: levelFromEnv(),
		}),
	))
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
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
