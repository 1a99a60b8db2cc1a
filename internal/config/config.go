// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. DatabaseURL is either a postgres:// URL or
	// sqlite://path (sqlite://:memory: for an ephemeral store).
	DatabaseURL string
	NotifyURL   string // Direct Postgres URL for LISTEN/NOTIFY; defaults to DatabaseURL.

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Credentials. The admin key issues operator tokens; the agent key
	// issues agent tokens.
	AdminAPIKey  string
	AgentAPIKey  string
	ReaderAPIKey string
	AuthDisabled bool // Development only: every request acts as the operator.

	// Identity.
	OperatorName string
	MailAgent    string

	// Kill switch side channels. Each is optional.
	KillSwitchPath     string
	KillSwitchURL      string
	RedisURL           string
	RedisKillSwitchKey string
	FlagTimeout        time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	RateLimitPerMinute  int // 0 disables rate limiting
	RateLimitBurst      int
	RateLimitRedis      bool // share counters through REDIS_URL
}

// Load reads configuration from environment variables with defaults.
// Malformed values are collected and reported together.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg Config
	var err error

	cfg.Port, err = envInt("MC_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("MC_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("MC_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.JWTExpiration, err = envDuration("MC_JWT_EXPIRATION", 24*time.Hour)
	collect(err)
	cfg.AuthDisabled, err = envBool("MC_AUTH_DISABLED", false)
	collect(err)
	cfg.FlagTimeout, err = envDuration("MC_FLAG_TIMEOUT", 5*time.Second)
	collect(err)
	cfg.OTELInsecure, err = envBool("MC_OTEL_INSECURE", false)
	collect(err)
	maxBody, err := envInt("MC_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.RateLimitPerMinute, err = envInt("MC_RATE_LIMIT_PER_MINUTE", 120)
	collect(err)
	cfg.RateLimitBurst, err = envInt("MC_RATE_LIMIT_BURST", 20)
	collect(err)
	cfg.RateLimitRedis, err = envBool("MC_RATE_LIMIT_REDIS", false)
	collect(err)

	cfg.DatabaseURL = envStr("DATABASE_URL", "sqlite://mission-control.db")
	cfg.NotifyURL = envStr("NOTIFY_URL", cfg.DatabaseURL)
	cfg.JWTPrivateKeyPath = envStr("MC_JWT_PRIVATE_KEY", "")
	cfg.JWTPublicKeyPath = envStr("MC_JWT_PUBLIC_KEY", "")
	cfg.AdminAPIKey = envStr("MC_ADMIN_API_KEY", "")
	cfg.AgentAPIKey = envStr("MC_AGENT_API_KEY", "")
	cfg.ReaderAPIKey = envStr("MC_READER_API_KEY", "")
	cfg.OperatorName = envStr("MC_OPERATOR_NAME", "Josh")
	cfg.MailAgent = envStr("MC_MAIL_AGENT", "Sophia CSM")
	cfg.KillSwitchPath = envStr("MC_KILL_SWITCH_PATH", "")
	cfg.KillSwitchURL = envStr("MC_KILL_SWITCH_URL", "")
	cfg.RedisURL = envStr("REDIS_URL", "")
	cfg.RedisKillSwitchKey = envStr("MC_REDIS_KILL_SWITCH_KEY", "mission-control:kill-switch")
	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "mission-control")
	cfg.LogLevel = envStr("MC_LOG_LEVEL", "info")

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UsesSQLite reports whether DatabaseURL selects the embedded store.
func (c Config) UsesSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, "sqlite://")
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if !c.UsesSQLite() && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("config: DATABASE_URL must be a postgres:// or sqlite:// URL")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: MC_PORT must be between 1 and 65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: MC_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("config: MC_RATE_LIMIT_PER_MINUTE and MC_RATE_LIMIT_BURST must not be negative")
	}
	if c.RateLimitPerMinute > 0 && c.RateLimitBurst == 0 {
		return fmt.Errorf("config: MC_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.RateLimitRedis && c.RedisURL == "" {
		return fmt.Errorf("config: MC_RATE_LIMIT_REDIS requires REDIS_URL")
	}
	if c.FlagTimeout <= 0 {
		return fmt.Errorf("config: MC_FLAG_TIMEOUT must be positive")
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		return fmt.Errorf("config: MC_JWT_PRIVATE_KEY and MC_JWT_PUBLIC_KEY must be set together")
	}
	if !c.AuthDisabled && c.AdminAPIKey == "" {
		return fmt.Errorf("config: MC_ADMIN_API_KEY is required unless MC_AUTH_DISABLED=true")
	}
	if strings.TrimSpace(c.OperatorName) == "" {
		return fmt.Errorf("config: MC_OPERATOR_NAME must not be blank")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
