package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (c *Config) applyEnv(getenv func(string) string) error {
	stringVars := map[string]*string{
		"HOST_PORT":            &c.HostPort,
		"DYNAMODB_ENDPOINT":    &c.DynamoDBEndpoint,
		"DYNAMODB_TABLE":       &c.DynamoDBTable,
		"SQS_ENDPOINT":         &c.SQSEndpoint,
		"PURGE_QUEUE":          &c.PurgeQueue,
		"REDIS_ENDPOINT":       &c.RedisEndpoint,
		"JWT_SECRET":           &c.JWTSecretBase64,
		"GITHUB_CLIENT_ID":     &c.GithubClientID,
		"GITHUB_CLIENT_SECRET": &c.GithubClientSecret,
		"GOOGLE_CLIENT_ID":     &c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": &c.GoogleClientSecret,
		"OAUTH_REDIRECT_URL":   &c.OAuthRedirectURL,
		"APP":                  &c.App,
		"COOKIE_DOMAIN":        &c.CookieDomain,
		"LOG_LEVEL":            &c.LogLevel,
		"LOG_FORMAT":           &c.LogFormat,
	}
	for name, dst := range stringVars {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if v := getenv("DEV_MODE"); v != "" {
		c.DevMode = v == "true"
	}
	if v := getenv("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		c.CookieSecure = b
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := getenv("MAX_CONNECTIONS_PER_IDENTITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONNECTIONS_PER_IDENTITY: %w", err)
		}
		c.MaxConnectionsPerIdentity = n
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":               &c.TokenTTL,
		"RETENTION_WINDOW":        &c.RetentionWindow,
		"REAPER_INTERVAL":         &c.ReaperInterval,
		"STROKE_FLUSH_INTERVAL":   &c.StrokeFlushInterval,
		"ACTIVITY_FLUSH_INTERVAL": &c.ActivityFlushInterval,
		"SHUTDOWN_TIMEOUT":        &c.ShutdownTimeout,
	}
	for name, dst := range durations {
		v := getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
