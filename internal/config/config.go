// Package config loads process configuration from an optional YAML file with
// environment overrides. Configuration is immutable after Load; secrets are
// validated up front so the process fails at boot rather than on the first
// webhook.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// DSN empty means the in-memory store (local development only).
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type PaymentsConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	SuccessURL    string        `yaml:"success_url"`
	CancelURL     string        `yaml:"cancel_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type MediaConfig struct {
	BaseURL       string        `yaml:"base_url"`
	SigningSecret string        `yaml:"signing_secret"`
	URLTTL        time.Duration `yaml:"url_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Load reads CONFIG_PATH (default config.yaml, missing file allowed), applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour},
		Payments: PaymentsConfig{Timeout: 10 * time.Second},
		Media:    MediaConfig{URLTTL: 15 * time.Minute},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "TOKEN_TTL")
	setString(&cfg.Payments.BaseURL, "PAYMENT_GATEWAY_URL")
	setString(&cfg.Payments.APIKey, "PAYMENT_API_KEY")
	setString(&cfg.Payments.WebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	setString(&cfg.Payments.SuccessURL, "CHECKOUT_SUCCESS_URL")
	setString(&cfg.Payments.CancelURL, "CHECKOUT_CANCEL_URL")
	setString(&cfg.Media.BaseURL, "MEDIA_BASE_URL")
	setString(&cfg.Media.SigningSecret, "MEDIA_SIGNING_SECRET")
	setDuration(&cfg.Media.URLTTL, "MEDIA_URL_TTL")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate enforces the boot-time contract: every secret the request path
// depends on must be present before serving.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth: jwt_secret is required (JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth: token_ttl must be positive")
	}
	if c.Payments.BaseURL == "" {
		return fmt.Errorf("payments: base_url is required (PAYMENT_GATEWAY_URL)")
	}
	if c.Payments.WebhookSecret == "" {
		return fmt.Errorf("payments: webhook_secret is required (PAYMENT_WEBHOOK_SECRET)")
	}
	if c.Payments.SuccessURL == "" || c.Payments.CancelURL == "" {
		return fmt.Errorf("payments: success_url and cancel_url are required")
	}
	if c.Payments.Timeout <= 0 {
		return fmt.Errorf("payments: timeout must be positive")
	}
	if c.Media.SigningSecret == "" {
		return fmt.Errorf("media: signing_secret is required (MEDIA_SIGNING_SECRET)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	return nil
}
