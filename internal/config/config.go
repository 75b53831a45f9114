// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds everything the server binary needs.
type Config struct {
	// Port the HTTP server listens on. PORT env, default 8080.
	Port int

	// DBPath is the SQLite database file. DB_PATH env, default
	// ./data/splitledger.db. Ignored when DatabaseURL is set.
	DBPath string

	// DatabaseURL selects the Postgres store when non-empty.
	// DATABASE_URL env.
	DatabaseURL string
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:        8080,
		DBPath:      getEnv("DB_PATH", "./data/splitledger.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Port = p
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
