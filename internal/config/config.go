// Package config provides configuration loading and management for the application.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Chain registry inputs
	AlchemyAPIKey string
	ChainsFile    string
	RPCEndpoints  map[string]string

	// Node transport
	RPCTimeout  time.Duration
	RPCRetryMax int

	// History store
	HistorySize     int
	HistoryInterval time.Duration

	// Orchestration
	CycleTimeout time.Duration
	PollInterval time.Duration

	// Circuit breaker settings
	EnableCircuitBreaker    bool
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// HTTP surface
	EnableMetrics  bool
	RateLimitRPS   float64
	RateLimitBurst int

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Response signing
	SignResponses bool
	SigningKey    string

	// Logging
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// LoadDotEnv loads variables from an optional .env file without overriding
// variables already set in the process. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	logrus.WithField("path", path).Debug("Loaded environment file")
	return nil
}

// Load creates a new Config from environment variables
func Load() (Config, error) {
	endpoints := map[string]string{}
	if raw := strings.TrimSpace(os.Getenv("RPC_ENDPOINTS")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
			return Config{}, fmt.Errorf("parse RPC_ENDPOINTS: %w", err)
		}
	}

	cfg := Config{
		Port:                    GetEnvOrDefault("PORT", "8080"),
		AlchemyAPIKey:           GetEnvOrDefault("ALCHEMY_API_KEY", ""),
		ChainsFile:              GetEnvOrDefault("CHAINS_FILE", ""),
		RPCEndpoints:            endpoints,
		RPCTimeout:              GetEnvAsDuration("RPC_TIMEOUT", 8*time.Second),
		RPCRetryMax:             GetEnvAsInt("RPC_RETRY_MAX", 1),
		HistorySize:             GetEnvAsInt("HISTORY_SIZE", 48),
		HistoryInterval:         GetEnvAsDuration("HISTORY_INTERVAL", 30*time.Minute),
		CycleTimeout:            GetEnvAsDuration("CYCLE_TIMEOUT", 20*time.Second),
		PollInterval:            GetEnvAsDuration("POLL_INTERVAL", 0),
		EnableCircuitBreaker:    GetEnvAsBool("ENABLE_CIRCUIT_BREAKER", true),
		BreakerFailureThreshold: GetEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerCooldown:         GetEnvAsDuration("BREAKER_COOLDOWN", 2*time.Minute),
		EnableMetrics:           GetEnvAsBool("ENABLE_METRICS", true),
		RateLimitRPS:            GetEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:          GetEnvAsInt("RATE_LIMIT_BURST", 20),
		OtelEndpoint:            GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SignResponses:           GetEnvAsBool("SIGN_RESPONSES", false),
		SigningKey:              GetEnvOrDefault("SIGNING_KEY", ""),
		LogLevel:                strings.ToLower(GetEnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(GetEnvOrDefault("LOG_FORMAT", "json")),
		LogFile:                 GetEnvOrDefault("LOG_FILE", ""),
		LogMaxSizeMB:            GetEnvAsInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups:           GetEnvAsInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:           GetEnvAsInt("LOG_MAX_AGE_DAYS", 28),
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPC_TIMEOUT must be positive, got %s", c.RPCTimeout))
	}
	if c.RPCRetryMax < 0 {
		errs = append(errs, fmt.Errorf("RPC_RETRY_MAX must not be negative, got %d", c.RPCRetryMax))
	}
	if c.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("HISTORY_SIZE must be at least 1, got %d", c.HistorySize))
	}
	if c.HistoryInterval <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_INTERVAL must be positive, got %s", c.HistoryInterval))
	}
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must not be negative, got %s", c.PollInterval))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	for key, url := range c.RPCEndpoints {
		if strings.TrimSpace(url) == "" {
			errs = append(errs, fmt.Errorf("RPC_ENDPOINTS: empty endpoint for %q", key))
		}
	}
	return errors.Join(errs...)
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
