// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement policy. These are platform-operations knobs, read at
	// startup rather than hard-coded into the state machines.
	AutoReleaseDays      int // grace period before a completion request auto-releases
	MinDisputeReasonLen  int
	DefaultMaxApplicants int // applied when a gig is posted without a cap; 0 = unlimited
	SweepInterval        time.Duration

	// Payment provider (ZAR EFT gateway)
	PaymentProvider      string
	PaymentWebhookSecret string // shared secret for webhook signature checks
	PaymentSuccessURL    string // browser-redirect landing pages
	PaymentErrorURL      string

	// Security
	RateLimitRPM int
	AdminSecret  string

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultAutoReleaseDays   = 7
	DefaultMinDisputeReason  = 10
	DefaultRateLimit         = 120
	DefaultSweepInterval     = time.Minute
	DefaultPaymentProvider   = "ozow"
	DefaultPaymentSuccessURL = "/payments/success"
	DefaultPaymentErrorURL   = "/payments/error"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AutoReleaseDays:      getEnvInt("AUTO_RELEASE_DAYS", DefaultAutoReleaseDays),
		MinDisputeReasonLen:  getEnvInt("MIN_DISPUTE_REASON_LEN", DefaultMinDisputeReason),
		DefaultMaxApplicants: getEnvInt("DEFAULT_MAX_APPLICANTS", 0),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		PaymentProvider:      getEnv("PAYMENT_PROVIDER", DefaultPaymentProvider),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		PaymentSuccessURL:    getEnv("PAYMENT_SUCCESS_URL", DefaultPaymentSuccessURL),
		PaymentErrorURL:      getEnv("PAYMENT_ERROR_URL", DefaultPaymentErrorURL),
		RateLimitRPM:         getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.AutoReleaseDays <= 0 {
		return fmt.Errorf("AUTO_RELEASE_DAYS must be positive, got %d", c.AutoReleaseDays)
	}
	if c.MinDisputeReasonLen < 0 {
		return fmt.Errorf("MIN_DISPUTE_REASON_LEN must not be negative, got %d", c.MinDisputeReasonLen)
	}
	if c.DefaultMaxApplicants < 0 {
		return fmt.Errorf("DEFAULT_MAX_APPLICANTS must not be negative, got %d", c.DefaultMaxApplicants)
	}
	if c.IsProduction() && c.PaymentWebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
	}
	return nil
}

// AutoReleaseGrace returns the completion grace period as a duration.
func (c *Config) AutoReleaseGrace() time.Duration {
	return time.Duration(c.AutoReleaseDays) * 24 * time.Hour
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
