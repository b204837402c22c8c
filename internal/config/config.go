package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from env; a .env file in the working directory is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Session   SessionConfig
	Booking   BookingConfig
	Signaling SignalingConfig
	CORS      CORSConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// SessionConfig controls when a video session may be opened.
type SessionConfig struct {
	// EarlyJoin is how long before scheduled_at participants may start the session.
	EarlyJoin time.Duration
	// LinkPadding extends the join link expiry past the end of the slot.
	LinkPadding time.Duration
}

type BookingConfig struct {
	// LockTTL bounds how long a doctor's calendar lock may be held.
	LockTTL time.Duration
	// LockWait is how long a booking waits for a busy calendar lock.
	LockWait time.Duration
}

type SignalingConfig struct {
	ReconnectGrace  time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	// Duration env vars are optional. Windows where 0s is meaningful take
	// their default only when unset; the rest treat 0 as unset (applyDefaults).
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"JWT_ACCESS_TTL", &c.Auth.AccessTokenTTL, 0},
		{"JWT_REFRESH_TTL", &c.Auth.RefreshTokenTTL, 0},
		{"SESSION_EARLY_JOIN", &c.Session.EarlyJoin, 15 * time.Minute},
		{"SESSION_LINK_PADDING", &c.Session.LinkPadding, 15 * time.Minute},
		{"BOOKING_LOCK_TTL", &c.Booking.LockTTL, 0},
		{"BOOKING_LOCK_WAIT", &c.Booking.LockWait, 2 * time.Second},
		{"SIGNALING_RECONNECT_GRACE", &c.Signaling.ReconnectGrace, 30 * time.Second},
		{"SIGNALING_PONG_WAIT", &c.Signaling.PongWait, 0},
		{"SIGNALING_WRITE_WAIT", &c.Signaling.WriteWait, 0},
	}
	for _, d := range durations {
		v, set, err := optionalDuration(d.key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		if !set {
			v = d.def
		}
		*d.dst = v
	}

	if v := strings.TrimSpace(os.Getenv("SIGNALING_MAX_MESSAGE_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("SIGNALING_MAX_MESSAGE_BYTES must be an integer, got %q", v))
		}
		c.Signaling.MaxMessageBytes = n
	}

	c.CORS.AllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

// Validate reports every invalid setting at once.
// Defaults for optional settings are applied by Load after validation succeeds.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if len(c.CORS.AllowedOrigins) == 0 {
			errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Session.EarlyJoin < 0 {
		errs = append(errs, errors.New("SESSION_EARLY_JOIN must not be negative"))
	}
	if c.Session.LinkPadding < 0 {
		errs = append(errs, errors.New("SESSION_LINK_PADDING must not be negative"))
	}
	if c.Booking.LockTTL < 0 || c.Booking.LockWait < 0 {
		errs = append(errs, errors.New("BOOKING_LOCK_TTL and BOOKING_LOCK_WAIT must not be negative"))
	}
	if c.Signaling.ReconnectGrace < 0 {
		errs = append(errs, errors.New("SIGNALING_RECONNECT_GRACE must not be negative"))
	}
	if c.Signaling.MaxMessageBytes < 0 {
		errs = append(errs, errors.New("SIGNALING_MAX_MESSAGE_BYTES must not be negative"))
	}

	return joinErrors(errs)
}

// applyDefaults fills settings for which zero is not a usable value.
func (c *Config) applyDefaults() {
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = 10 * time.Second
	}
	if c.Signaling.PongWait == 0 {
		c.Signaling.PongWait = 20 * time.Second
	}
	if c.Signaling.WriteWait == 0 {
		c.Signaling.WriteWait = 10 * time.Second
	}
	if c.Signaling.MaxMessageBytes == 0 {
		// SDP offers with many candidates can exceed a few KB.
		c.Signaling.MaxMessageBytes = 64 << 10
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalDuration parses key; set is false when the variable is empty or missing.
func optionalDuration(key string) (d time.Duration, set bool, err error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false, nil
	}
	d, err = time.ParseDuration(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s must be a duration like 30s or 15m, got %q", key, v)
	}
	return d, true, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
