package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/masqify/billing-service/internal/events"
	"github.com/masqify/billing-service/internal/pricing"
	"github.com/masqify/billing-service/internal/service"
	"github.com/masqify/billing-service/internal/webhook"
)

// Config represents the complete configuration for the billing service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Pricing   pricing.Config  `yaml:"pricing"`
	Billing   service.Config  `yaml:"billing"`
	Webhook   webhook.Config  `yaml:"webhook"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    events.Config   `yaml:"events"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration. An empty URL runs
// the service on the in-memory store (development only).
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"max_connections"`
	MinConnections int           `yaml:"min_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Rewrite         Rule          `yaml:"rewrite"`
}

// Rule is one fixed-window rate limit rule.
type Rule struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8082
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
	if c.RateLimit.CleanupInterval == 0 {
		c.RateLimit.CleanupInterval = time.Hour
	}
	if c.RateLimit.Rewrite.Limit == 0 {
		c.RateLimit.Rewrite.Limit = 20
	}
	if c.RateLimit.Rewrite.WindowSeconds == 0 {
		c.RateLimit.Rewrite.WindowSeconds = 3600
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required")
	}

	if c.Pricing.Markup < 0 {
		return fmt.Errorf("pricing markup cannot be negative")
	}

	if c.RateLimit.Rewrite.Limit < 0 || c.RateLimit.Rewrite.WindowSeconds < 0 {
		return fmt.Errorf("rate limit values cannot be negative")
	}

	return nil
}

// GetDatabaseConfig returns database configuration for pgxpool
func (c *Config) GetDatabaseConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = int32(c.Database.MaxConnections)
	config.MinConns = int32(c.Database.MinConnections)
	config.MaxConnLifetime = c.Database.MaxLifetime
	config.MaxConnIdleTime = c.Database.IdleTimeout

	return config, nil
}

// GetPricingConfig returns pricing engine configuration
func (c *Config) GetPricingConfig() *pricing.Config {
	return &c.Pricing
}

// GetBillingConfig returns funds service configuration
func (c *Config) GetBillingConfig() *service.Config {
	return &c.Billing
}

// GetWebhookConfig returns webhook processor configuration
func (c *Config) GetWebhookConfig() *webhook.Config {
	return &c.Webhook
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.LogLevel == "debug"
}
