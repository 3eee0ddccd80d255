// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Settlement SettlementConfig `yaml:"settlement"`
	Credit     CreditConfig     `yaml:"credit"`
	Packs      []PackConfig     `yaml:"packs"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// GatewayConfig configures the payment gateway order-lookup collaborator.
// Use "none" when every confirmation carries an explicit amount, or
// "http" to resolve order references against the gateway API.
type GatewayConfig struct {
	Mode        string        `yaml:"mode"` // "none" or "http"
	BaseURL     string        `yaml:"base_url,omitempty"`
	AccessToken string        `yaml:"access_token,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	// WebhookSecret enables HMAC-SHA256 verification of inbound webhook
	// bodies. Empty disables verification.
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// SettlementConfig configures the settlement processor.
type SettlementConfig struct {
	// OperatorEmails lists operator identities; payments whose payer hint
	// matches one are rejected instead of credited.
	OperatorEmails []string `yaml:"operator_emails"`
	// SignupBonusCredits is granted to new accounts at registration.
	// 0 disables the welcome grant.
	SignupBonusCredits int64 `yaml:"signup_bonus_credits"`
}

// CreditConfig configures grant validity windows.
type CreditConfig struct {
	PurchaseExpiryDays      int `yaml:"purchase_expiry_days"`
	ReferralBonusExpiryDays int `yaml:"referral_bonus_expiry_days"`
}

// PackConfig maps a gateway line-item code to a credit amount.
type PackConfig struct {
	ItemCode   string `yaml:"item_code"`
	Credits    int64  `yaml:"credits"`
	PriceCents int64  `yaml:"price_cents"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	CREDITD_DATABASE_DSN       - Database path (default: creditd.db)
//	CREDITD_SERVER_HOST        - Server host (default: 0.0.0.0)
//	CREDITD_SERVER_PORT        - Server port (default: 8080)
//	CREDITD_GATEWAY_MODE       - Gateway lookup mode: none or http
//	CREDITD_GATEWAY_BASE_URL   - Gateway API base URL
//	CREDITD_GATEWAY_TOKEN      - Gateway API access token
//	CREDITD_OPERATOR_EMAILS    - Comma-separated operator identities
//	CREDITD_LOG_LEVEL          - Log level: debug, info, warn, error
//	CREDITD_LOG_FORMAT         - Log format: json or console
//	CREDITD_METRICS_ENABLED    - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables when the file does not exist.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies CREDITD_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("CREDITD_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CREDITD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CREDITD_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("CREDITD_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("CREDITD_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CREDITD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Gateway configuration
	if v := os.Getenv("CREDITD_GATEWAY_MODE"); v != "" {
		cfg.Gateway.Mode = v
	}
	if v := os.Getenv("CREDITD_GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("CREDITD_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.AccessToken = v
	}
	if v := os.Getenv("CREDITD_GATEWAY_WEBHOOK_SECRET"); v != "" {
		cfg.Gateway.WebhookSecret = v
	}

	// Settlement configuration
	if v := os.Getenv("CREDITD_OPERATOR_EMAILS"); v != "" {
		var emails []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				emails = append(emails, e)
			}
		}
		cfg.Settlement.OperatorEmails = emails
	}
	if v := os.Getenv("CREDITD_SIGNUP_BONUS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Settlement.SignupBonusCredits = n
		}
	}

	// Logging configuration
	if v := os.Getenv("CREDITD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CREDITD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("CREDITD_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("CREDITD_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "creditd.db"
	}

	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = "none"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}

	if cfg.Credit.PurchaseExpiryDays == 0 {
		cfg.Credit.PurchaseExpiryDays = 40
	}
	if cfg.Credit.ReferralBonusExpiryDays == 0 {
		cfg.Credit.ReferralBonusExpiryDays = 60
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Default single pack if none configured
	if len(cfg.Packs) == 0 {
		cfg.Packs = []PackConfig{
			{
				ItemCode:   "credits_3",
				Credits:    3,
				PriceCents: 500,
			},
		}
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validGatewayModes := map[string]bool{"none": true, "http": true}
	if !validGatewayModes[cfg.Gateway.Mode] {
		return fmt.Errorf("gateway.mode must be 'none' or 'http', got %q", cfg.Gateway.Mode)
	}
	if cfg.Gateway.Mode == "http" && cfg.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required when gateway.mode is 'http'")
	}

	if cfg.Credit.PurchaseExpiryDays < 1 {
		return fmt.Errorf("credit.purchase_expiry_days must be positive")
	}
	if cfg.Credit.ReferralBonusExpiryDays < 1 {
		return fmt.Errorf("credit.referral_bonus_expiry_days must be positive")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Packs {
		if p.ItemCode == "" {
			return fmt.Errorf("packs[%d].item_code is required", i)
		}
		if seen[p.ItemCode] {
			return fmt.Errorf("packs[%d].item_code %q is duplicated", i, p.ItemCode)
		}
		seen[p.ItemCode] = true
		if p.Credits <= 0 {
			return fmt.Errorf("packs[%d].credits must be positive", i)
		}
	}

	return nil
}
