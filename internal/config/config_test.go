package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseConfig() *Config {
	return &Config{
		Port:               "8375",
		JWTSecret:          "development-secret",
		RedisURL:           "localhost:6379",
		Env:                "development",
		PageSize:           20,
		TxMaxAttempts:      5,
		TxBackoffInitialMS: 10,
		TracingSampleRate:  1.0,
	}
}

func TestValidate_Development(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MissingPort(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Port = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_MissingJWTSecret(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.JWTSecret = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadTuning(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.PageSize = 0
	assert.Error(t, cfg.Validate())

	cfg = baseConfig()
	cfg.TxMaxAttempts = -1
	assert.Error(t, cfg.Validate())

	cfg = baseConfig()
	cfg.TxBackoffInitialMS = 0
	assert.Error(t, cfg.Validate())

	cfg = baseConfig()
	cfg.TracingSampleRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidate_ProductionRejectsDefaultSecret(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "your-secret-key-change-in-production"
	cfg.ProfileDBPassword = "Str0ng-Passw0rd!"
	assert.Error(t, cfg.Validate())
}

func TestValidate_ProductionRejectsShortSecret(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "short"
	cfg.ProfileDBPassword = "Str0ng-Passw0rd!"
	assert.Error(t, cfg.Validate())
}

func TestValidate_ProductionRejectsWeakDBPassword(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "a-very-long-and-random-production-secret-key"
	cfg.ProfileDBPassword = "password"
	assert.Error(t, cfg.Validate())
}

func TestValidate_ProductionOK(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "a-very-long-and-random-production-secret-key"
	cfg.ProfileDBPassword = "Str0ng-Passw0rd!"
	cfg.ProfileDBSSLMode = "require"
	assert.NoError(t, cfg.Validate())
}
