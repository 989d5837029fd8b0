// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds firmware-registry configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"firmware-registry"`

	// Subject overrides (empty = defaults from commsutil)
	UpdatesSubject      string `envconfig:"UPDATES_SUBJECT"`
	CatalogEventSubject string `envconfig:"CATALOG_EVENT_SUBJECT"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Database. Empty DATABASE_URL runs the registry on the in-memory store
	// (single node, no persistence).
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Admin
	AdminSecret string `envconfig:"ADMIN_SECRET"`

	// Caching
	ResultCacheTTL   time.Duration `envconfig:"RESULT_CACHE_TTL" default:"24h"`
	ActiveVersionTTL time.Duration `envconfig:"ACTIVE_VERSION_TTL" default:"60s"`

	// Rate limiting. DefaultRateLimit 0 disables limiting for callers
	// without their own allowance.
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1h"`
	DefaultRateLimit int           `envconfig:"DEFAULT_RATE_LIMIT" default:"100"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the registry server.
func (c *Config) ValidateForServe() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.ResultCacheTTL < 0 || c.ActiveVersionTTL < 0 {
		return fmt.Errorf("%s - cache TTLs must not be negative", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands
// (migrate, ensure-db, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
