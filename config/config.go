// Package config assembles server settings from defaults, an optional YAML
// file, the environment and command-line flags, in that order of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	ConfigFile string `yaml:"-"`

	DevMode  bool   `yaml:"dev_mode"`
	HostPort string `yaml:"host_port"`

	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
	DynamoDBTable    string `yaml:"dynamodb_table"`
	SQSEndpoint      string `yaml:"sqs_endpoint"`
	PurgeQueue       string `yaml:"purge_queue"`
	RedisEndpoint    string `yaml:"redis_endpoint"`

	// JWTSecretBase64 is decoded into JWTSecret by Load.
	JWTSecretBase64 string `yaml:"jwt_secret"`
	JWTSecret       []byte `yaml:"-"`

	GithubClientID     string `yaml:"github_client_id"`
	GithubClientSecret string `yaml:"github_client_secret"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	OAuthRedirectURL   string `yaml:"oauth_redirect_url"`

	// App is the public URL of the web client; the default avatar lives
	// under it.
	App            string   `yaml:"app"`
	CookieDomain   string   `yaml:"cookie_domain"`
	CookieSecure   bool     `yaml:"cookie_secure"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	TokenTTL                  time.Duration `yaml:"token_ttl"`
	RetentionWindow           time.Duration `yaml:"retention_window"`
	ReaperInterval            time.Duration `yaml:"reaper_interval"`
	StrokeFlushInterval       time.Duration `yaml:"stroke_flush_interval"`
	ActivityFlushInterval     time.Duration `yaml:"activity_flush_interval"`
	ShutdownTimeout           time.Duration `yaml:"shutdown_timeout"`
	MaxConnectionsPerIdentity int           `yaml:"max_connections_per_identity"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		HostPort:                  "8080",
		DynamoDBTable:             "DoodleUp",
		PurgeQueue:                "PurgeStrokesQueue",
		App:                       "http://localhost:3000",
		CookieSecure:              true,
		TokenTTL:                  168 * time.Hour,
		RetentionWindow:           7 * 24 * time.Hour,
		ReaperInterval:            time.Hour,
		StrokeFlushInterval:       500 * time.Millisecond,
		ActivityFlushInterval:     30 * time.Second,
		ShutdownTimeout:           10 * time.Second,
		MaxConnectionsPerIdentity: 5,
		LogLevel:                  "info",
		LogFormat:                 "text",
	}
}

// Load builds the configuration. args excludes the program name; getenv is
// usually os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	// First pass only finds the config file; flags are applied again on top
	// of file and environment below.
	probe := Default()
	if err := newFlagSet(probe).Parse(args); err != nil {
		return nil, err
	}
	path := probe.ConfigFile
	if path == "" {
		path = getenv("CONFIG_FILE")
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	if err := newFlagSet(cfg).Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultAvatar is the avatar given to guests.
func (c *Config) DefaultAvatar() string {
	return strings.TrimSuffix(c.App, "/") + "/guest.png"
}

func (c *Config) finalize() error {
	if c.JWTSecretBase64 == "" {
		return errors.New("JWT_SECRET is required")
	}
	secret, err := base64.StdEncoding.DecodeString(c.JWTSecretBase64)
	if err != nil {
		return fmt.Errorf("failed to decode base64 JWT secret: %w", err)
	}
	c.JWTSecret = secret

	if c.TokenTTL <= 0 || c.RetentionWindow <= 0 || c.ReaperInterval <= 0 ||
		c.StrokeFlushInterval <= 0 || c.ActivityFlushInterval <= 0 {
		return errors.New("durations must be positive")
	}
	if c.MaxConnectionsPerIdentity <= 0 {
		return errors.New("max connections per identity must be positive")
	}
	return nil
}
