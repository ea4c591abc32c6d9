// Package config reads service settings from the environment, loading a
// .env file first when one is present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMemory    = "memory"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string `json:"-"`
	From     string
}

// Enabled reports whether outgoing mail is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type StripeConfig struct {
	SecretKey     string `json:"-"`
	WebhookSecret string `json:"-"`
	PremiumCents  int64
	EternalCents  int64
}

type Config struct {
	Environment        string
	Port               string
	StoreDriver        string
	DatabaseURL        string `json:"-"`
	FirestoreProjectID string
	RedisURL           string
	FeatureCatalogPath string

	JWTSecret    string `json:"-"`
	TokenTTL     time.Duration
	AdminKeyHash string `json:"-"`
	AdminKeySalt string `json:"-"`

	Stripe StripeConfig
	SMTP   SMTPConfig

	SentryDSN             string
	OTLPEndpoint          string
	DonationRatePerMinute int

	LogLevel  string
	LogFormat string
}

// Load reads the environment and validates driver-specific requirements.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		Port:               getEnv("PORT", "8080"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		FirestoreProjectID: getEnv("FIRESTORE_PROJECT_ID", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		FeatureCatalogPath: getEnv("FEATURE_CATALOG_PATH", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenTTL:           getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
		AdminKeyHash:       getEnv("ADMIN_KEY_HASH", ""),
		AdminKeySalt:       getEnv("ADMIN_KEY_SALT", ""),
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PremiumCents:  int64(getEnvAsInt("PRICE_PREMIUM_CENTS", 4900)),
			EternalCents:  int64(getEnvAsInt("PRICE_ETERNAL_CENTS", 14900)),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},
		SentryDSN:             getEnv("SENTRY_DSN", ""),
		OTLPEndpoint:          getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		DonationRatePerMinute: getEnvAsInt("DONATION_RATE_PER_MINUTE", 60),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings required by the selected features are
// present.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverFirestore:
		if c.FirestoreProjectID == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID is required for the firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if (c.AdminKeyHash == "") != (c.AdminKeySalt == "") {
		errs = append(errs, errors.New("ADMIN_KEY_HASH and ADMIN_KEY_SALT must be set together"))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	if c.DonationRatePerMinute <= 0 {
		errs = append(errs, errors.New("DONATION_RATE_PER_MINUTE must be positive"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
