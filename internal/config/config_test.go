package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("MC_ADMIN_API_KEY", "k")
	t.Setenv("MC_PORT", "abc")
	t.Setenv("MC_FLAG_TIMEOUT", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	for _, want := range []string{"MC_PORT", "abc", "MC_FLAG_TIMEOUT"} {
		if !strings.Contains(got, want) {
			t.Fatalf("error should mention %s, got: %s", want, got)
		}
	}
}

func TestLoadRequiresAdminKeyUnlessAuthDisabled(t *testing.T) {
	t.Setenv("MC_ADMIN_API_KEY", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MC_ADMIN_API_KEY") {
		t.Fatalf("expected admin key error, got %v", err)
	}

	t.Setenv("MC_AUTH_DISABLED", "true")
	if _, err := Load(); err != nil {
		t.Fatalf("expected Load() to succeed with auth disabled, got: %v", err)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	t.Setenv("MC_ADMIN_API_KEY", "k")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if !cfg.UsesSQLite() {
		t.Fatalf("expected the embedded store by default, got %s", cfg.DatabaseURL)
	}
	if cfg.NotifyURL != cfg.DatabaseURL {
		t.Fatalf("expected NOTIFY_URL to default to DATABASE_URL")
	}
	if cfg.OperatorName != "Josh" || cfg.MailAgent != "Sophia CSM" {
		t.Fatalf("unexpected identity defaults: %q %q", cfg.OperatorName, cfg.MailAgent)
	}
	if cfg.FlagTimeout != 5*time.Second {
		t.Fatalf("expected 5s flag timeout, got %s", cfg.FlagTimeout)
	}
	if cfg.RateLimitPerMinute != 120 || cfg.RateLimitBurst != 20 {
		t.Fatalf("unexpected rate limit defaults: %d/%d", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
}

func TestValidateRejectsUnknownScheme(t *testing.T) {
	cfg := Config{DatabaseURL: "mysql://x", Port: 8080, MaxRequestBodyBytes: 1, FlagTimeout: time.Second, AuthDisabled: true, OperatorName: "Josh"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected scheme error")
	}
	cfg.DatabaseURL = "postgres://mc:mc@localhost:5432/mission_control"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRequiresKeyPair(t *testing.T) {
	cfg := Config{DatabaseURL: "sqlite://x.db", Port: 8080, MaxRequestBodyBytes: 1, FlagTimeout: time.Second, AuthDisabled: true, OperatorName: "Josh", JWTPrivateKeyPath: "/k"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected key pair error")
	}
}

func TestValidateRateLimit(t *testing.T) {
	cfg := Config{DatabaseURL: "sqlite://x.db", Port: 8080, MaxRequestBodyBytes: 1, FlagTimeout: time.Second, AuthDisabled: true, OperatorName: "Josh", RateLimitPerMinute: 60}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected burst error when rate limiting without a burst")
	}
	cfg.RateLimitBurst = 5
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.RateLimitRedis = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for redis rate limiting without REDIS_URL")
	}
	cfg.RedisURL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.RateLimitPerMinute = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative rate error")
	}
}
