// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`

	// Profile database (block records live there).
	ProfileDBHost     string `mapstructure:"PROFILE_DB_HOST"`
	ProfileDBPort     string `mapstructure:"PROFILE_DB_PORT"`
	ProfileDBUser     string `mapstructure:"PROFILE_DB_USER"`
	ProfileDBPassword string `mapstructure:"PROFILE_DB_PASSWORD"`
	ProfileDBName     string `mapstructure:"PROFILE_DB_NAME"`
	ProfileDBSSLMode  string `mapstructure:"PROFILE_DB_SSLMODE"`

	// Read/write tuning.
	PageSize           int `mapstructure:"PAGE_SIZE"`
	TxMaxAttempts      int `mapstructure:"TX_MAX_ATTEMPTS"`
	TxBackoffInitialMS int `mapstructure:"TX_BACKOFF_INITIAL_MS"`
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	// Tracing.
	TracingEnabled    bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter   string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint   string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSampleRate float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	// Set default values for development
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PROFILE_DB_HOST", "localhost")
	viper.SetDefault("PROFILE_DB_PORT", "5432")
	viper.SetDefault("PROFILE_DB_USER", "user")
	viper.SetDefault("PROFILE_DB_PASSWORD", "password")
	viper.SetDefault("PROFILE_DB_NAME", "kindred_profile")
	viper.SetDefault("PROFILE_DB_SSLMODE", "disable")
	viper.SetDefault("PAGE_SIZE", 20)
	viper.SetDefault("TX_MAX_ATTEMPTS", 5)
	viper.SetDefault("TX_BACKOFF_INITIAL_MS", 10)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATE", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.PageSize <= 0 {
		return errors.New("PAGE_SIZE must be positive")
	}
	if c.TxMaxAttempts <= 0 {
		return errors.New("TX_MAX_ATTEMPTS must be positive")
	}
	if c.TxBackoffInitialMS <= 0 {
		return errors.New("TX_BACKOFF_INITIAL_MS must be positive")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	// Strict checks for production
	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.ProfileDBPassword == "password" || c.ProfileDBPassword == "" {
			return errors.New("a strong PROFILE_DB_PASSWORD is required in production")
		}
		if c.ProfileDBSSLMode == "disable" || c.ProfileDBSSLMode == "" {
			log.Println("WARNING: PROFILE_DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else {
		// Development/Test warnings
		if len(c.JWTSecret) < 32 {
			log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}
