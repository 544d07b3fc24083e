package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"mixpower/internal"
	"mixpower/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Sim      SimulationConfig
	Paths    PathConfig
	LogLevel internal.LogLevel
}

// DatabaseConfig holds database connection settings. An empty URL disables persistence.
type DatabaseConfig struct {
	URL string
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// SimulationConfig holds engine defaults that are not part of a run request.
type SimulationConfig struct {
	Workers          int
	SweepConcurrency int
	MaxIter          int
}

// PathConfig holds file system paths
type PathConfig struct {
	OutputDir string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{URL: os.Getenv("DATABASE_URL")},
		Server:   ServerConfig{Port: getEnvOrDefault("PORT", "8080")},
		Sim: SimulationConfig{
			Workers:          getEnvIntOrDefault("MIXPOWER_WORKERS", runtime.NumCPU()),
			SweepConcurrency: getEnvIntOrDefault("MIXPOWER_SWEEP_CONCURRENCY", 1),
			MaxIter:          getEnvIntOrDefault("MIXPOWER_MAX_ITER", 0),
		},
		Paths:    PathConfig{OutputDir: getEnvOrDefault("MIXPOWER_OUTPUT_DIR", "output")},
		LogLevel: internal.ParseLogLevel(getEnvOrDefault("LOG_LEVEL", "INFO")),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Sim.Workers <= 0 {
		return errors.ConfigInvalid("MIXPOWER_WORKERS must be positive")
	}
	if config.Sim.SweepConcurrency <= 0 {
		return errors.ConfigInvalid("MIXPOWER_SWEEP_CONCURRENCY must be positive")
	}
	if config.Sim.MaxIter < 0 {
		return errors.ConfigInvalid("MIXPOWER_MAX_ITER cannot be negative")
	}
	if config.Database.Enabled() && !strings.HasPrefix(config.Database.URL, "postgres") {
		return errors.ConfigInvalid("DATABASE_URL must be a postgres:// or postgresql:// URL")
	}
	if _, err := strconv.Atoi(config.Server.Port); err != nil {
		return errors.ConfigInvalid("PORT must be numeric")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
