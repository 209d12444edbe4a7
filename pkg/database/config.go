package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv builds the database config from environment variables.
// DATABASE_URL, when set, wins over the individual DB_* variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:             os.Getenv("DATABASE_URL"),
		Host:            envOr("DB_HOST", "localhost"),
		User:            envOr("DB_USER", "resumeforge"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        envOr("DB_NAME", "resumeforge"),
		SSLMode:         envOr("DB_SSLMODE", "disable"),
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	port, err := strconv.Atoi(envOr("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.Port = port

	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %q", v)
		}
		cfg.MaxOpenConns = n
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %q", v)
		}
		cfg.MaxIdleConns = n
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
