package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/volunteerhub/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":3000")
//	-g string     gRPC bind address; empty disables gRPC
//	-b string     database driver, "sqlite" or "postgres"
//	-d string     database DSN
//	-s string     JWT HMAC secret key
//	-D bool       development mode, allows the built-in secret key
//	-t duration   token lifetime (e.g., "24h")
//	-k int        bcrypt cost
//	-m string     session store, "memory" or "redis"
//	-R string     redis address
//	-r int        requests per minute allowed per IP, 0 disables the limit
//	-l string     log level
//	-S bool       sessions rely on TLS and skip payload encryption
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - A bool flag must be written as -S or -S=true; a separate value is not
//     consumed.
func parseFlags(config *Config) error {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-b", "-d", "-s", "-D", "-t", "-k", "-m", "-R", "-r", "-l", "-S"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to serve HTTP")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "address and port to serve gRPC")
	fs.StringVar(&config.DBDriver, "b", config.DBDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.BoolVar(&config.DevMode, "D", config.DevMode, "development mode")
	fs.DurationVar(&config.TokenTTL, "t", config.TokenTTL, "token validity duration")
	fs.IntVar(&config.HashCost, "k", config.HashCost, "bcrypt cost")
	fs.StringVar(&config.SessionStore, "m", config.SessionStore, "session store (memory|redis)")
	fs.StringVar(&config.RedisAddr, "R", config.RedisAddr, "redis address")
	fs.IntVar(&config.IPMaxPerMin, "r", config.IPMaxPerMin, "requests per minute per IP")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.BoolVar(&config.SecureTransport, "S", config.SecureTransport, "secure transport mode")

	return fs.Parse(args)
}
