// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/propforge/sentinel/internal/monitor"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory audit store if not set)

	// Security
	AdminSecret    string   // Admin API secret (X-Admin-Secret header)
	AllowedOrigins []string // CORS origins; empty allows same-host only

	// Edge rate limiting (protects the monitor API itself)
	EdgeRateRPM   int
	EdgeRateBurst int

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing

	// Monitoring engine policy
	EnforceRateLimiting bool
	MaxAttempts         int
	Window              time.Duration
	BlockDuration       time.Duration
	APIRateLimit        int
	APIWindow           time.Duration
	APIBlockDuration    time.Duration
	LockoutThreshold    int
	LockoutDuration     time.Duration
	SweepInterval       time.Duration
	AllowAdminReset     bool
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultEdgeRateRPM   = 600
	DefaultEdgeRateBurst = 30
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:   getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set

		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		AllowedOrigins: splitCSV(os.Getenv("ALLOWED_ORIGINS")),

		EdgeRateRPM:   int(getEnvInt64("EDGE_RATE_RPM", DefaultEdgeRateRPM)),
		EdgeRateBurst: int(getEnvInt64("EDGE_RATE_BURST", DefaultEdgeRateBurst)),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		EnforceRateLimiting: getEnvBool("ENFORCE_RATE_LIMITING", true),
		MaxAttempts:         int(getEnvInt64("MAX_FAILED_ATTEMPTS", 5)),
		Window:              getEnvDuration("RATE_WINDOW", 5*time.Minute),
		BlockDuration:       getEnvDuration("BLOCK_DURATION", 15*time.Minute),
		APIRateLimit:        int(getEnvInt64("API_RATE_LIMIT", 1000)),
		APIWindow:           getEnvDuration("API_RATE_WINDOW", time.Minute),
		APIBlockDuration:    getEnvDuration("API_BLOCK_DURATION", 5*time.Minute),
		LockoutThreshold:    int(getEnvInt64("LOCKOUT_THRESHOLD", 5)),
		LockoutDuration:     getEnvDuration("LOCKOUT_DURATION", time.Hour),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Hour),
		AllowAdminReset:     getEnvBool("ALLOW_ADMIN_RESET", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and
// enforces production constraints.
func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_FAILED_ATTEMPTS must be positive")
	}
	if c.Window <= 0 || c.BlockDuration <= 0 {
		return fmt.Errorf("RATE_WINDOW and BLOCK_DURATION must be positive durations")
	}

	if c.IsProduction() {
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		// Administrative resets are never available in production
		c.AllowAdminReset = false
	}

	return nil
}

// Monitor builds the engine policy from this configuration. The engine
// receives an explicit config object and never reads the environment.
func (c *Config) Monitor() monitor.Config {
	return monitor.Config{
		EnforceRateLimiting: c.EnforceRateLimiting,
		MaxAttempts:         c.MaxAttempts,
		Window:              c.Window,
		BlockDuration:       c.BlockDuration,
		APIRateLimit:        c.APIRateLimit,
		APIWindow:           c.APIWindow,
		APIBlockDuration:    c.APIBlockDuration,
		LockoutThreshold:    c.LockoutThreshold,
		LockoutDuration:     c.LockoutDuration,
		SweepInterval:       c.SweepInterval,
		AllowAdminReset:     c.AllowAdminReset,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
