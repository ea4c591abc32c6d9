package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PORT", "9090")
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("TOKEN_TTL", "2h")
	for _, key := range []string{"SMTP_HOST", "STRIPE_SECRET_KEY", "ADMIN_KEY_HASH", "ADMIN_KEY_SALT", "DONATION_RATE_PER_MINUTE", "PRICE_PREMIUM_CENTS"} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_FORMAT", "text")

	_, err := Load()
	require.Error(t, err, "empty STORE_DRIVER is not a driver")

	t.Setenv("STORE_DRIVER", "Memory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, int64(4900), cfg.Stripe.PremiumCents)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreDriver:           DriverMemory,
			JWTSecret:             "s3cret",
			DonationRatePerMinute: 10,
			LogFormat:             "json",
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }, "DATABASE_URL"},
		{"firestore without project", func(c *Config) { c.StoreDriver = DriverFirestore }, "FIRESTORE_PROJECT_ID"},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, "unknown STORE_DRIVER"},
		{"no jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"half admin key", func(c *Config) { c.AdminKeyHash = "abc" }, "ADMIN_KEY_SALT"},
		{"stripe without webhook", func(c *Config) { c.Stripe.SecretKey = "sk_test" }, "STRIPE_WEBHOOK_SECRET"},
		{"zero rate", func(c *Config) { c.DonationRatePerMinute = 0 }, "DONATION_RATE_PER_MINUTE"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
