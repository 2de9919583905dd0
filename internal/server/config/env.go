package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every field name, e.g. VH_HTTP_ADDR.
const EnvPrefix = "VH_"

// envFile is read before the environment is inspected. Variables already
// set in the process are not overridden by it.
var envFile = ".env"

type envParser struct {
	errs []error
}

func (p *envParser) lookup(name string) (string, bool) {
	return os.LookupEnv(EnvPrefix + name)
}

func (p *envParser) str(name string, dst *string) {
	if v, ok := p.lookup(name); ok {
		*dst = v
	}
}

func (p *envParser) integer(name string, dst *int) {
	v, ok := p.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (p *envParser) boolean(name string, dst *bool) {
	v, ok := p.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

func (p *envParser) duration(name string, dst *time.Duration) {
	v, ok := p.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}

func (p *envParser) list(name string, dst *[]string) {
	v, ok := p.lookup(name)
	if !ok {
		return
	}
	*dst = splitList(v)
}

func splitList(v string) []string {
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseEnv overlays VH_* environment variables onto config. SIGN_KEY is
// accepted as the signing secret and loses to VH_SECRET_KEY when both are
// set. A missing .env file is not an error.
func parseEnv(config *Config) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", envFile, err)
	}

	if v, ok := os.LookupEnv("SIGN_KEY"); ok {
		config.SecretKey = v
	}

	p := &envParser{}

	p.str("HTTP_ADDR", &config.HTTPAddr)
	p.str("GRPC_ADDR", &config.GRPCAddr)
	p.str("DB_DRIVER", &config.DBDriver)
	p.str("DATABASE_DSN", &config.DatabaseDSN)
	p.str("SECRET_KEY", &config.SecretKey)
	p.boolean("DEV_MODE", &config.DevMode)
	p.duration("TOKEN_TTL", &config.TokenTTL)
	p.integer("HASH_COST", &config.HashCost)
	p.boolean("CAPTCHA_REQUIRED", &config.CaptchaRequired)
	p.str("CAPTCHA_SECRET", &config.CaptchaSecret)
	p.str("CAPTCHA_URL", &config.CaptchaURL)
	p.duration("CAPTCHA_TIMEOUT", &config.CaptchaTimeout)
	p.boolean("SECURE_TRANSPORT", &config.SecureTransport)
	p.str("SESSION_STORE", &config.SessionStore)
	p.str("REDIS_ADDR", &config.RedisAddr)
	p.duration("SESSION_IDLE_TTL", &config.SessionIdleTTL)
	p.integer("SESSION_CAPACITY", &config.SessionCapacity)
	p.integer("IP_MAX_PER_MIN", &config.IPMaxPerMin)
	p.list("BANNED_IP", &config.BannedIP)
	p.str("LOG_LEVEL", &config.LogLevel)
	p.boolean("LOG_JSON", &config.LogJSON)
	p.str("LOG_FILE", &config.LogFile)
	p.str("ADMIN_ID", &config.AdminID)
	p.str("ADMIN_PASSWORD", &config.AdminPassword)

	return errors.Join(p.errs...)
}
