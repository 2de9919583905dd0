package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/volunteerhub/internal/flagx"
	"github.com/dmitrijs2005/volunteerhub/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for decoding config files. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
// It is seeded from the current Config, so keys missing from the file keep
// their earlier values.
type fileConfig struct {
	HTTPAddr        string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr        string         `json:"grpc_addr" yaml:"grpc_addr"`
	DBDriver        string         `json:"db_driver" yaml:"db_driver"`
	DatabaseDSN     string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey       string         `json:"secret_key" yaml:"secret_key"`
	DevMode         bool           `json:"dev_mode" yaml:"dev_mode"`
	TokenTTL        timex.Duration `json:"token_ttl" yaml:"token_ttl"`
	HashCost        int            `json:"hash_cost" yaml:"hash_cost"`
	CaptchaRequired bool           `json:"captcha_required" yaml:"captcha_required"`
	CaptchaSecret   string         `json:"captcha_secret" yaml:"captcha_secret"`
	CaptchaURL      string         `json:"captcha_url" yaml:"captcha_url"`
	CaptchaTimeout  timex.Duration `json:"captcha_timeout" yaml:"captcha_timeout"`
	SecureTransport bool           `json:"secure_transport" yaml:"secure_transport"`
	SessionStore    string         `json:"session_store" yaml:"session_store"`
	RedisAddr       string         `json:"redis_addr" yaml:"redis_addr"`
	SessionIdleTTL  timex.Duration `json:"session_idle_ttl" yaml:"session_idle_ttl"`
	SessionCapacity int            `json:"session_capacity" yaml:"session_capacity"`
	IPMaxPerMin     int            `json:"ip_max_per_min" yaml:"ip_max_per_min"`
	BannedIP        []string       `json:"banned_ip" yaml:"banned_ip"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
	LogJSON         bool           `json:"log_json" yaml:"log_json"`
	LogFile         string         `json:"log_file" yaml:"log_file"`
	AdminID         string         `json:"admin_id" yaml:"admin_id"`
	AdminPassword   string         `json:"admin_password" yaml:"admin_password"`
}

func newFileConfig(c *Config) *fileConfig {
	return &fileConfig{
		HTTPAddr:        c.HTTPAddr,
		GRPCAddr:        c.GRPCAddr,
		DBDriver:        c.DBDriver,
		DatabaseDSN:     c.DatabaseDSN,
		SecretKey:       c.SecretKey,
		DevMode:         c.DevMode,
		TokenTTL:        timex.Duration{Duration: c.TokenTTL},
		HashCost:        c.HashCost,
		CaptchaRequired: c.CaptchaRequired,
		CaptchaSecret:   c.CaptchaSecret,
		CaptchaURL:      c.CaptchaURL,
		CaptchaTimeout:  timex.Duration{Duration: c.CaptchaTimeout},
		SecureTransport: c.SecureTransport,
		SessionStore:    c.SessionStore,
		RedisAddr:       c.RedisAddr,
		SessionIdleTTL:  timex.Duration{Duration: c.SessionIdleTTL},
		SessionCapacity: c.SessionCapacity,
		IPMaxPerMin:     c.IPMaxPerMin,
		BannedIP:        c.BannedIP,
		LogLevel:        c.LogLevel,
		LogJSON:         c.LogJSON,
		LogFile:         c.LogFile,
		AdminID:         c.AdminID,
		AdminPassword:   c.AdminPassword,
	}
}

func (f *fileConfig) apply(c *Config) {
	c.HTTPAddr = f.HTTPAddr
	c.GRPCAddr = f.GRPCAddr
	c.DBDriver = f.DBDriver
	c.DatabaseDSN = f.DatabaseDSN
	c.SecretKey = f.SecretKey
	c.DevMode = f.DevMode
	c.TokenTTL = f.TokenTTL.Duration
	c.HashCost = f.HashCost
	c.CaptchaRequired = f.CaptchaRequired
	c.CaptchaSecret = f.CaptchaSecret
	c.CaptchaURL = f.CaptchaURL
	c.CaptchaTimeout = f.CaptchaTimeout.Duration
	c.SecureTransport = f.SecureTransport
	c.SessionStore = f.SessionStore
	c.RedisAddr = f.RedisAddr
	c.SessionIdleTTL = f.SessionIdleTTL.Duration
	c.SessionCapacity = f.SessionCapacity
	c.IPMaxPerMin = f.IPMaxPerMin
	c.BannedIP = f.BannedIP
	c.LogLevel = f.LogLevel
	c.LogJSON = f.LogJSON
	c.LogFile = f.LogFile
	c.AdminID = f.AdminID
	c.AdminPassword = f.AdminPassword
}

// configFilePath returns the file named by -c/-config, falling back to the
// CONFIG_FILE environment variable.
func configFilePath() string {
	if p := flagx.ConfigFileFlag(); p != "" {
		return p
	}
	return os.Getenv("CONFIG_FILE")
}

// parseFile overlays values from a config file onto config. Files ending in
// .yml or .yaml are decoded as YAML, anything else as JSON. Without a path
// nothing is loaded.
func parseFile(config *Config) error {
	path := configFilePath()

	// nothing to load
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	fc := newFileConfig(config)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file %q: %w", path, err)
	}

	fc.apply(config)
	return nil
}
