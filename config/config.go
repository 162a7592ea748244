// Package config loads the member portal settings from the environment and an
// optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	auth "github.com/goliatone/go-member-auth"
	"github.com/spf13/viper"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	minSigningKeyLength = 32
	profileKeyLength    = 32
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseDriver selects the bun dialect: "sqlite" or "postgres".
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	// DatabaseURL is the DSN handed to the selected driver.
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DatabaseDebug       bool          `mapstructure:"DATABASE_DEBUG"`
	DatabasePingTimeout time.Duration `mapstructure:"DATABASE_PING_TIMEOUT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// JWTSigningKey is the HS256 key for the session cookie.
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is a comma separated list of accepted audiences.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	SessionCookie      string        `mapstructure:"SESSION_COOKIE"`
	SessionIdleTTL     time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	SessionAbsoluteTTL time.Duration `mapstructure:"SESSION_ABSOLUTE_TTL"`
	SessionExtendedTTL time.Duration `mapstructure:"SESSION_EXTENDED_TTL"`
	ChallengeTTL       time.Duration `mapstructure:"CHALLENGE_TTL"`
	SecureCookies      bool          `mapstructure:"SECURE_COOKIES"`

	// RecaptchaThreshold is the minimum human verification score.
	RecaptchaThreshold float64 `mapstructure:"RECAPTCHA_THRESHOLD"`

	BcryptCost       int           `mapstructure:"BCRYPT_COST"`
	LoginMaxAttempts int           `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LockoutDuration  time.Duration `mapstructure:"LOCKOUT_DURATION"`
	PasswordMinAge   time.Duration `mapstructure:"PASSWORD_MIN_AGE"`
	PasswordMaxAge   time.Duration `mapstructure:"PASSWORD_MAX_AGE"`
	OTPTTL           time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts   int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	ResetTokenTTL    time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	// ResetURL is the public address of the reset form used in emails.
	ResetURL string `mapstructure:"RESET_URL"`
	// UseHashid derives account ids from the email with hashid.
	UseHashid bool `mapstructure:"USE_HASHID"`

	// ProfileKey is the hex encoded 32 byte key sealing national ids at rest.
	ProfileKey string `mapstructure:"PROFILE_ENCRYPTION_KEY"`
}

var _ auth.Config = (*Config)(nil)

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "file::memory:?cache=shared")
	v.SetDefault("DATABASE_DEBUG", false)
	v.SetDefault("DATABASE_PING_TIMEOUT", "5s")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SIGNING_KEY", "")
	v.SetDefault("JWT_ISSUER", "member-portal")
	v.SetDefault("JWT_AUDIENCE", "member-portal-web")
	v.SetDefault("SESSION_COOKIE", "member_session")
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("SESSION_ABSOLUTE_TTL", "8h")
	v.SetDefault("SESSION_EXTENDED_TTL", "720h") // 30d
	v.SetDefault("CHALLENGE_TTL", "10m")
	v.SetDefault("SECURE_COOKIES", true)
	v.SetDefault("RECAPTCHA_THRESHOLD", 0.5)
	v.SetDefault("BCRYPT_COST", auth.DefaultHashCost)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", auth.DefaultMaxLoginAttempts)
	v.SetDefault("LOCKOUT_DURATION", "5m")
	v.SetDefault("PASSWORD_MIN_AGE", "1m")
	v.SetDefault("PASSWORD_MAX_AGE", "2160h") // 90d
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", auth.DefaultOTPMaxAttempts)
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("RESET_URL", "")
	v.SetDefault("USE_HASHID", false)
	v.SetDefault("PROFILE_ENCRYPTION_KEY", "")

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	)); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}

	if len(c.JWTSigningKey) < minSigningKeyLength {
		return errors.New("config: JWT_SIGNING_KEY must be at least 32 characters")
	}

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return errors.New("config: DATABASE_DRIVER must be sqlite or postgres")
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if c.LoginMaxAttempts < 1 {
		return errors.New("config: LOGIN_MAX_ATTEMPTS must be at least 1")
	}

	if c.RecaptchaThreshold < 0 || c.RecaptchaThreshold > 1 {
		return errors.New("config: RECAPTCHA_THRESHOLD must be between 0 and 1")
	}

	if c.Env == "production" && !c.SecureCookies {
		return errors.New("config: SECURE_COOKIES must be true when APP_ENV=production")
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"DATABASE_PING_TIMEOUT", c.DatabasePingTimeout},
		{"SESSION_IDLE_TTL", c.SessionIdleTTL},
		{"SESSION_ABSOLUTE_TTL", c.SessionAbsoluteTTL},
		{"SESSION_EXTENDED_TTL", c.SessionExtendedTTL},
		{"CHALLENGE_TTL", c.ChallengeTTL},
		{"LOCKOUT_DURATION", c.LockoutDuration},
		{"PASSWORD_MIN_AGE", c.PasswordMinAge},
		{"PASSWORD_MAX_AGE", c.PasswordMaxAge},
		{"OTP_TTL", c.OTPTTL},
		{"RESET_TOKEN_TTL", c.ResetTokenTTL},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return fmt.Errorf("config: %s must be a positive duration", d.key)
		}
	}

	if c.SessionIdleTTL > c.SessionAbsoluteTTL {
		return errors.New("config: SESSION_IDLE_TTL must not exceed SESSION_ABSOLUTE_TTL")
	}

	if _, err := c.ProfileKeyBytes(); err != nil {
		return err
	}

	return nil
}

// ProfileKeyBytes decodes PROFILE_ENCRYPTION_KEY.
func (c *Config) ProfileKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.ProfileKey))
	if err != nil || len(key) != profileKeyLength {
		return nil, errors.New("config: PROFILE_ENCRYPTION_KEY must be 64 hex characters")
	}
	return key, nil
}

// SecurityPolicy builds the engine policy from the configured tunables.
func (c *Config) SecurityPolicy() auth.SecurityPolicy {
	return auth.SecurityPolicy{
		MaxLoginAttempts: c.LoginMaxAttempts,
		LockoutDuration:  c.LockoutDuration,
		PasswordMinAge:   c.PasswordMinAge,
		PasswordMaxAge:   c.PasswordMaxAge,
		OTPTTL:           c.OTPTTL,
		OTPMaxAttempts:   c.OTPMaxAttempts,
		ResetTokenTTL:    c.ResetTokenTTL,
		HashCost:         c.BcryptCost,
	}
}

// GetPersistence returns the settings handed to the persistence client.
func (c *Config) GetPersistence() Persistence {
	return Persistence{
		Debug:          c.DatabaseDebug,
		Driver:         c.DatabaseDriver,
		Server:         c.DatabaseURL,
		PingTimeout:    c.DatabasePingTimeout,
		OtelIdentifier: "member-portal-" + c.DatabaseDriver,
	}
}

func (c *Config) GetSigningKey() string {
	return c.JWTSigningKey
}

func (c *Config) GetContextKey() string {
	return c.SessionCookie
}

func (c *Config) GetIssuer() string {
	return c.JWTIssuer
}

func (c *Config) GetAudience() []string {
	if c == nil || c.JWTAudience == "" {
		return nil
	}
	parts := strings.Split(c.JWTAudience, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) GetSessionIdleTimeout() time.Duration {
	return c.SessionIdleTTL
}

func (c *Config) GetSessionAbsoluteTimeout() time.Duration {
	return c.SessionAbsoluteTTL
}

func (c *Config) GetExtendedSessionDuration() time.Duration {
	return c.SessionExtendedTTL
}

func (c *Config) GetChallengeDuration() time.Duration {
	return c.ChallengeTTL
}

func (c *Config) GetSecureCookies() bool {
	return c.SecureCookies
}

func (c *Config) GetHumanVerificationThreshold() float64 {
	return c.RecaptchaThreshold
}

// Persistence satisfies the go-persistence-bun client configuration.
type Persistence struct {
	Debug          bool
	Driver         string
	Server         string
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (p Persistence) GetDebug() bool {
	return p.Debug
}

// GetDriver returns the database/sql driver name for the dialect.
func (p Persistence) GetDriver() string {
	if p.Driver == "postgres" {
		return "pgx"
	}
	return sqliteshim.ShimName
}

func (p Persistence) GetServer() string {
	return p.Server
}

func (p Persistence) GetDSN() string {
	return p.Server
}

func (p Persistence) GetPingTimeout() time.Duration {
	if p.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return p.PingTimeout
}

func (p Persistence) GetOtelIdentifier() string {
	return p.OtelIdentifier
}
