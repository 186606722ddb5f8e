package config

import (
	"io"

	"github.com/spf13/pflag"
)

// newFlagSet binds flags to cfg, using its current values as defaults so
// only flags given on the command line change anything.
func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("doodleup", pflag.ContinueOnError)
	// Callers report parse errors and print Usage themselves
	fs.SetOutput(io.Discard)

	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "path to a YAML config file (env CONFIG_FILE)")
	fs.BoolVar(&cfg.DevMode, "dev", cfg.DevMode, "use local dynamodb/sqs/redis endpoints without TLS")
	fs.StringVarP(&cfg.HostPort, "port", "p", cfg.HostPort, "port to listen on")

	fs.StringVar(&cfg.DynamoDBEndpoint, "dynamodb-endpoint", cfg.DynamoDBEndpoint, "dynamodb endpoint (dev mode)")
	fs.StringVar(&cfg.DynamoDBTable, "dynamodb-table", cfg.DynamoDBTable, "dynamodb table name")
	fs.StringVar(&cfg.SQSEndpoint, "sqs-endpoint", cfg.SQSEndpoint, "sqs endpoint (dev mode)")
	fs.StringVar(&cfg.PurgeQueue, "purge-queue", cfg.PurgeQueue, "sqs queue carrying stroke purge jobs")
	fs.StringVar(&cfg.RedisEndpoint, "redis-endpoint", cfg.RedisEndpoint, "redis address")

	fs.StringVar(&cfg.App, "app", cfg.App, "public URL of the web client")
	fs.StringVar(&cfg.CookieDomain, "cookie-domain", cfg.CookieDomain, "domain attribute of credential cookies")
	fs.BoolVar(&cfg.CookieSecure, "cookie-secure", cfg.CookieSecure, "mark credential cookies Secure")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "origins allowed for CORS and websockets (empty allows same-origin only)")
	fs.StringVar(&cfg.OAuthRedirectURL, "oauth-redirect-url", cfg.OAuthRedirectURL, "redirect URL registered with OAuth providers")

	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "credential lifetime")
	fs.DurationVar(&cfg.RetentionWindow, "retention", cfg.RetentionWindow, "inactivity window before identities and strokes are reaped")
	fs.DurationVar(&cfg.ReaperInterval, "reaper-interval", cfg.ReaperInterval, "time between reaper sweeps")
	fs.DurationVar(&cfg.StrokeFlushInterval, "stroke-flush-interval", cfg.StrokeFlushInterval, "max delay before pending strokes are persisted")
	fs.DurationVar(&cfg.ActivityFlushInterval, "activity-flush-interval", cfg.ActivityFlushInterval, "max delay before activity touches are applied")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for in-flight requests on shutdown")
	fs.IntVar(&cfg.MaxConnectionsPerIdentity, "max-connections", cfg.MaxConnectionsPerIdentity, "websocket connections allowed per identity")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	return fs
}

// Usage renders the flag help text.
func Usage() string {
	return newFlagSet(Default()).FlagUsages()
}
