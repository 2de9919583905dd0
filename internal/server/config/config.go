// Package config handles configuration for the server component:
// defaults, an optional JSON or YAML file, environment variables and
// command-line flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/common"
)

// Session store kinds.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultSecretKey is the development signing key. Validate rejects it
// unless DevMode is set.
const DefaultSecretKey = "secret"

// Config holds runtime settings for the volunteerhub server.
//
// Fields:
//   - HTTPAddr / GRPCAddr: bind addresses. An empty GRPCAddr disables gRPC.
//   - DBDriver / DatabaseDSN: "sqlite" or "postgres" and its DSN.
//   - SecretKey: HMAC secret for signing JWTs (HS256).
//   - DevMode: allows the built-in SecretKey.
//   - CaptchaRequired / CaptchaSecret: Turnstile verification on sign-in and sign-up.
//   - SessionStore: "memory" or "redis"; RedisAddr is used for the latter.
//   - AdminID / AdminPassword: when both are set an admin account is created at startup.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	DBDriver        string
	DatabaseDSN     string
	SecretKey       string
	DevMode         bool
	TokenTTL        time.Duration
	HashCost        int
	CaptchaRequired bool
	CaptchaSecret   string
	CaptchaURL      string
	CaptchaTimeout  time.Duration
	SecureTransport bool
	SessionStore    string
	RedisAddr       string
	SessionIdleTTL  time.Duration
	SessionCapacity int
	IPMaxPerMin     int
	BannedIP        []string
	LogLevel        string
	LogJSON         bool
	LogFile         string
	AdminID         string
	AdminPassword   string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":3000"
	c.GRPCAddr = ""
	c.DBDriver = "sqlite"
	c.DatabaseDSN = "database.db"
	c.SecretKey = DefaultSecretKey
	c.DevMode = false
	c.TokenTTL = 24 * time.Hour
	c.HashCost = 12
	c.CaptchaRequired = false
	c.CaptchaSecret = ""
	c.CaptchaURL = common.DefaultCaptchaURL
	c.CaptchaTimeout = 5 * time.Second
	c.SecureTransport = false
	c.SessionStore = StoreMemory
	c.RedisAddr = "127.0.0.1:6379"
	c.SessionIdleTTL = 0
	c.SessionCapacity = 100_000
	c.IPMaxPerMin = 100
	c.BannedIP = []string{}
	c.LogLevel = "info"
	c.LogJSON = true
	c.LogFile = ""
	c.AdminID = ""
	c.AdminPassword = ""
}

// Validate reports settings that would make the server misbehave.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		errs = append(errs, errors.New("no listen address configured"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret_key is empty"))
	}
	if c.SecretKey == DefaultSecretKey && !c.DevMode {
		errs = append(errs, errors.New("secret_key is the built-in default; set SIGN_KEY or enable dev_mode"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("token_ttl must be positive, got %s", c.TokenTTL))
	}
	if c.CaptchaRequired && c.CaptchaSecret == "" {
		errs = append(errs, errors.New("captcha_required is set but captcha_secret is empty"))
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session_store %q", c.SessionStore))
	}
	if c.SessionIdleTTL < 0 {
		errs = append(errs, errors.New("session_idle_ttl must not be negative"))
	}
	if c.IPMaxPerMin < 0 {
		errs = append(errs, errors.New("ip_max_per_min must not be negative"))
	}
	if (c.AdminID == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("admin_id and admin_password must be set together"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file, the environment and finally command-line
// flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
