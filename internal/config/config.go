package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	DeviceJWTSecret     string `env:"DEVICE_JWT_SECRET,required"`
	MercadoPagoToken    string `env:"MP_ACCESS_TOKEN"`
	MercadoPagoBaseURL  string `env:"MP_BASE_URL" envDefault:"https://api.mercadopago.com"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	AppBaseURL          string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	CodeTTLSeconds      int    `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"600"`
	SyncTokenTTLSeconds int    `env:"SYNC_TOKEN_TTL_SECONDS" envDefault:"1800"`
	ReplayWindowHours   int    `env:"CLAIM_REPLAY_WINDOW_HOURS" envDefault:"24"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

// CodeTTL is the validity window of a human-typable pairing code.
func (c *Config) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLSeconds) * time.Second
}

// SyncTokenTTL is the validity window of a device sync token.
func (c *Config) SyncTokenTTL() time.Duration {
	return time.Duration(c.SyncTokenTTLSeconds) * time.Second
}

// ReplayWindow bounds how long an already-paired device may re-submit its
// consumed token after confirmation.
func (c *Config) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowHours) * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if err := validateSecret("DEVICE_JWT_SECRET", c.DeviceJWTSecret, isProduction); err != nil {
		return err
	}

	if isProduction {
		if c.MercadoPagoToken == "" {
			log.Warn().Msg("MP_ACCESS_TOKEN is empty in production: billing checkout disabled")
		}
		if c.StripeWebhookSecret == "" {
			log.Warn().Msg("STRIPE_WEBHOOK_SECRET is empty in production: legacy Stripe webhooks rejected")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string, isProduction bool) error {
	if !isProduction {
		return nil
	}
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
