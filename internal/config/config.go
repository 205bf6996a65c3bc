/**
 * @description
 * Configuration management for the payments-service. All tunables the
 * reconciliation engine depends on (fee rate, allow-list, grace window,
 * retry policy) are read once at startup and injected into the engine at
 * construction time; nothing reads ambient configuration at runtime, so
 * tests can supply deterministic values.
 *
 * @dependencies
 * - github.com/spf13/viper: Reads settings from environment variables or a local .env file.
 * - github.com/shopspring/decimal: Validates and carries the platform fee rate.
 */
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	InternalAPIKey        string `mapstructure:"INTERNAL_API_KEY"`
	EventsExchange        string `mapstructure:"EVENTS_EXCHANGE"`
	GatewayConsumerKey    string `mapstructure:"GATEWAY_CONSUMER_KEY"`
	GatewayConsumerSecret string `mapstructure:"GATEWAY_CONSUMER_SECRET"`

	// Comma-separated list of source addresses allowed to deliver callbacks.
	// Empty means unrestricted: the endpoint is additionally protected by
	// correlation-id unpredictability, so an empty list is an operational
	// choice, not a misconfiguration.
	GatewayAllowedSources string `mapstructure:"GATEWAY_ALLOWED_SOURCES"`

	PlatformFeeRate              string `mapstructure:"PLATFORM_FEE_RATE"`
	SubscriptionGracePeriodHours int    `mapstructure:"SUBSCRIPTION_GRACE_PERIOD_HOURS"`

	RetryBackoffBaseSeconds int    `mapstructure:"RETRY_BACKOFF_BASE_SECONDS"`
	RetryMaxAttempts        int    `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBatchSize          int    `mapstructure:"RETRY_BATCH_SIZE"`
	RetryQueueSchedule      string `mapstructure:"RETRY_QUEUE_SCHEDULE"`

	SubscriptionExpirySchedule string `mapstructure:"SUBSCRIPTION_EXPIRY_SCHEDULE"`

	RedisReplayGuardPrefix string `mapstructure:"REDIS_REPLAY_GUARD_PREFIX"`
}

// LoadConfig reads configuration from environment variables or a .env file.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("EVENTS_EXCHANGE", "lipabooks.events")
	viper.SetDefault("PLATFORM_FEE_RATE", "0.02")
	viper.SetDefault("SUBSCRIPTION_GRACE_PERIOD_HOURS", 72)
	viper.SetDefault("RETRY_BACKOFF_BASE_SECONDS", 60)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	viper.SetDefault("RETRY_BATCH_SIZE", 50)
	viper.SetDefault("RETRY_QUEUE_SCHEDULE", "@every 1m")
	viper.SetDefault("SUBSCRIPTION_EXPIRY_SCHEDULE", "@hourly")
	viper.SetDefault("REDIS_REPLAY_GUARD_PREFIX", "lipabooks:replay_guard")

	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("GATEWAY_CONSUMER_KEY")
	_ = viper.BindEnv("GATEWAY_CONSUMER_SECRET")
	_ = viper.BindEnv("GATEWAY_ALLOWED_SOURCES")
	_ = viper.BindEnv("PLATFORM_FEE_RATE")
	_ = viper.BindEnv("SUBSCRIPTION_GRACE_PERIOD_HOURS")
	_ = viper.BindEnv("RETRY_BACKOFF_BASE_SECONDS")
	_ = viper.BindEnv("RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("RETRY_BATCH_SIZE")
	_ = viper.BindEnv("RETRY_QUEUE_SCHEDULE")
	_ = viper.BindEnv("SUBSCRIPTION_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("REDIS_REPLAY_GUARD_PREFIX")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}

	if _, rateErr := decimal.NewFromString(config.PlatformFeeRate); rateErr != nil {
		return Config{}, fmt.Errorf("PLATFORM_FEE_RATE %q is not a valid decimal: %w", config.PlatformFeeRate, rateErr)
	}
	if config.RetryMaxAttempts < 1 {
		return Config{}, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", config.RetryMaxAttempts)
	}
	if config.RetryBackoffBaseSeconds < 1 {
		return Config{}, fmt.Errorf("RETRY_BACKOFF_BASE_SECONDS must be at least 1, got %d", config.RetryBackoffBaseSeconds)
	}

	return
}

// AllowedSources returns the parsed source allow-list. An empty slice means
// no restriction.
func (c Config) AllowedSources() []string {
	raw := strings.TrimSpace(c.GatewayAllowedSources)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	sources := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			sources = append(sources, trimmed)
		}
	}
	return sources
}

// FeeRate returns the platform fee rate as a decimal. LoadConfig already
// validated the string, so a parse failure here means the Config was built
// by hand; fall back to zero rather than panic.
func (c Config) FeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.PlatformFeeRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// GracePeriod returns the subscription grace window as a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.SubscriptionGracePeriodHours) * time.Hour
}

// RetryBackoffBase returns the base delay for exponential backoff.
func (c Config) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseSeconds) * time.Second
}
