package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("CodeTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{CodeTTLSeconds: 600}
		assert.Equal(t, 10*time.Minute, cfg.CodeTTL())
	})

	t.Run("SyncTokenTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{SyncTokenTTLSeconds: 1800}
		assert.Equal(t, 30*time.Minute, cfg.SyncTokenTTL())
	})

	t.Run("ReplayWindow converts hours to duration", func(t *testing.T) {
		cfg := &Config{ReplayWindowHours: 24}
		assert.Equal(t, 24*time.Hour, cfg.ReplayWindow())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                     os.Getenv("PORT"),
		"DATABASE_URL":             os.Getenv("DATABASE_URL"),
		"REDIS_URL":                os.Getenv("REDIS_URL"),
		"DEVICE_JWT_SECRET":        os.Getenv("DEVICE_JWT_SECRET"),
		"PAIRING_CODE_TTL_SECONDS": os.Getenv("PAIRING_CODE_TTL_SECONDS"),
		"SYNC_TOKEN_TTL_SECONDS":   os.Getenv("SYNC_TOKEN_TTL_SECONDS"),
		"LOG_LEVEL":                os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("DEVICE_JWT_SECRET", "test-secret")
		os.Unsetenv("PORT")
		os.Unsetenv("PAIRING_CODE_TTL_SECONDS")
		os.Unsetenv("SYNC_TOKEN_TTL_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, 600, cfg.CodeTTLSeconds)
		assert.Equal(t, 1800, cfg.SyncTokenTTLSeconds)
		assert.Equal(t, 24, cfg.ReplayWindowHours)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("DEVICE_JWT_SECRET", "test-secret")
		os.Setenv("PORT", "3000")
		os.Setenv("PAIRING_CODE_TTL_SECONDS", "300")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 300, cfg.CodeTTLSeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("DEVICE_JWT_SECRET", "test-secret")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required DEVICE_JWT_SECRET", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("DEVICE_JWT_SECRET")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	strongSecret := strings.Repeat("a", 32)

	t.Run("development accepts any secret", func(t *testing.T) {
		cfg := &Config{DeviceJWTSecret: "change-me", RedisURL: "redis://localhost:6379"}
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("production rejects short secrets", func(t *testing.T) {
		cfg := &Config{DeviceJWTSecret: "short", RedisURL: "rediss://prod:6379"}
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("production error names the variable", func(t *testing.T) {
		cfg := &Config{DeviceJWTSecret: "change-me", RedisURL: "rediss://prod:6379"}
		err := cfg.Validate(true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DEVICE_JWT_SECRET")
	})

	t.Run("production accepts a strong secret", func(t *testing.T) {
		cfg := &Config{DeviceJWTSecret: strongSecret, RedisURL: "rediss://prod:6379"}
		assert.NoError(t, cfg.Validate(true))
	})
}
