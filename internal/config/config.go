// Package config loads and validates agent configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration values for the sync agent.
// Values are populated by Load from environment variables.
type Config struct {
	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string

	// Token is the trace-server user token for the synced account. Required.
	Token string

	// AccountID identifies the destination account all queries and
	// watermarks are scoped to. Required.
	AccountID string

	// ProviderID selects which trace-server instance to talk to.
	// Defaults to "openpath". See the provider package for known IDs.
	ProviderID string

	// DeviceName is recorded on saved trips as the capture device.
	// Defaults to "Tracemob".
	DeviceName string

	// TimeLimit is the external wall-clock budget for one run, in seconds.
	// Defaults to 300.
	TimeLimit int

	// SafetyMargin is subtracted from TimeLimit to leave room for the
	// chunk in flight when the budget check fires. Defaults to 100.
	SafetyMargin int

	// ChunkSize is the number of trip metadata entries processed per
	// checkpoint. Defaults to 100.
	ChunkSize int

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// ProvidersFile is an optional path to a YAML file overriding the
	// built-in provider registry. Empty means built-ins only.
	ProvidersFile string
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set.
func Load() (Config, error) {
	cfg := Config{
		ProviderID:    getEnv("TRACE_PROVIDER", "openpath"),
		DeviceName:    getEnv("DEVICE_NAME", "Tracemob"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		ProvidersFile: os.Getenv("PROVIDERS_FILE"),
	}

	var err error
	if cfg.TimeLimit, err = getEnvInt("TIME_LIMIT", 300); err != nil {
		return Config{}, err
	}
	if cfg.SafetyMargin, err = getEnvInt("SAFETY_MARGIN", 100); err != nil {
		return Config{}, err
	}
	if cfg.ChunkSize, err = getEnvInt("CHUNK_SIZE", 100); err != nil {
		return Config{}, err
	}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	cfg.Token = os.Getenv("TRACE_TOKEN")
	if cfg.Token == "" {
		missing = append(missing, "TRACE_TOKEN")
	}
	cfg.AccountID = os.Getenv("ACCOUNT_ID")
	if cfg.AccountID == "" {
		missing = append(missing, "ACCOUNT_ID")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses the environment variable named by key as an integer,
// returning fallback when the variable is not set or empty.
func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
