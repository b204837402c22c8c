package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "telemed"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, key := range []string{"APP_ENV", "DB_HOST", "REDIS_HOST", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in aggregated error, got %v", key, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLModeAndOrigins(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "telemed"
	c.Auth.JWTAudience = "portal"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	if !strings.Contains(err.Error(), "DB_SSLMODE") || !strings.Contains(err.Error(), "CORS_ALLOWED_ORIGINS") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RejectsNegativeWindows(t *testing.T) {
	c := validLocal()
	c.Session.EarlyJoin = -time.Minute
	c.Signaling.ReconnectGrace = -time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative durations")
	}
}

func TestLoad_ReadsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "8081")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "telemed")
	t.Setenv("DB_NAME", "telemed")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SESSION_EARLY_JOIN", "10m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://portal.example.com, https://admin.example.com")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Session.EarlyJoin != 10*time.Minute {
		t.Fatalf("expected early join 10m, got %v", c.Session.EarlyJoin)
	}
	if c.Session.LinkPadding != 15*time.Minute {
		t.Fatalf("expected default link padding, got %v", c.Session.LinkPadding)
	}
	if c.Signaling.ReconnectGrace != 30*time.Second {
		t.Fatalf("expected default reconnect grace, got %v", c.Signaling.ReconnectGrace)
	}
	if len(c.CORS.AllowedOrigins) != 2 || c.CORS.AllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("unexpected origins: %v", c.CORS.AllowedOrigins)
	}
	if c.RedisAddr() != "cache:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
}

func TestLoad_ReportsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "8081")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "telemed")
	t.Setenv("DB_NAME", "telemed")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SIGNALING_RECONNECT_GRACE", "soon")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SIGNALING_RECONNECT_GRACE") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}

func TestLoad_ExplicitZeroWindowsAreKept(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "8081")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "telemed")
	t.Setenv("DB_NAME", "telemed")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SESSION_EARLY_JOIN", "0s")
	t.Setenv("SIGNALING_RECONNECT_GRACE", "0")
	t.Setenv("BOOKING_LOCK_TTL", "0s")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Session.EarlyJoin != 0 {
		t.Fatalf("expected explicit 0s early join to be kept, got %v", c.Session.EarlyJoin)
	}
	if c.Signaling.ReconnectGrace != 0 {
		t.Fatalf("expected explicit 0 reconnect grace to be kept, got %v", c.Signaling.ReconnectGrace)
	}
	if c.Session.LinkPadding != 15*time.Minute || c.Booking.LockWait != 2*time.Second {
		t.Fatalf("unset windows should take defaults, got padding=%v wait=%v", c.Session.LinkPadding, c.Booking.LockWait)
	}
	if c.Booking.LockTTL != 10*time.Second {
		t.Fatalf("a zero lock ttl is unusable and should fall back to the default, got %v", c.Booking.LockTTL)
	}
}
