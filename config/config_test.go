package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// "secret" in base64
const testSecret = "c2VjcmV0"

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doodleup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, envMap(map[string]string{"JWT_SECRET": testSecret}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HostPort)
	assert.Equal(t, "DoodleUp", cfg.DynamoDBTable)
	assert.Equal(t, "PurgeStrokesQueue", cfg.PurgeQueue)
	assert.Equal(t, 168*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RetentionWindow)
	assert.Equal(t, time.Hour, cfg.ReaperInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.StrokeFlushInterval)
	assert.Equal(t, 5, cfg.MaxConnectionsPerIdentity)
	assert.True(t, cfg.CookieSecure)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, []byte("secret"), cfg.JWTSecret)
	assert.Equal(t, "http://localhost:3000/guest.png", cfg.DefaultAvatar())
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load(nil, envMap(nil))
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoad_BadSecret(t *testing.T) {
	_, err := Load(nil, envMap(map[string]string{"JWT_SECRET": "not base64!"}))
	assert.Error(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
host_port: "9000"
dynamodb_table: FromFile
redis_endpoint: file-redis:6379
reaper_interval: 2h
allowed_origins:
  - https://file.example
`)

	env := map[string]string{
		"CONFIG_FILE":    path,
		"JWT_SECRET":     testSecret,
		"DYNAMODB_TABLE": "FromEnv",
		"HOST_PORT":      "9100",
		"DEV_MODE":       "true",
	}
	args := []string{"--port", "9200", "--allowed-origins", "https://a.example,https://b.example"}

	cfg, err := Load(args, envMap(env))
	require.NoError(t, err)

	// flag > env > file > default
	assert.Equal(t, "9200", cfg.HostPort)
	assert.Equal(t, "FromEnv", cfg.DynamoDBTable)
	assert.Equal(t, "file-redis:6379", cfg.RedisEndpoint)
	assert.Equal(t, 2*time.Hour, cfg.ReaperInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "PurgeStrokesQueue", cfg.PurgeQueue)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoad_ConfigFlagBeatsEnv(t *testing.T) {
	fromEnv := writeFile(t, "dynamodb_table: EnvFile\n")
	fromFlag := writeFile(t, "dynamodb_table: FlagFile\n")

	cfg, err := Load([]string{"--config", fromFlag}, envMap(map[string]string{
		"CONFIG_FILE": fromEnv,
		"JWT_SECRET":  testSecret,
	}))
	require.NoError(t, err)
	assert.Equal(t, "FlagFile", cfg.DynamoDBTable)
}

func TestLoad_UnknownFileKey(t *testing.T) {
	path := writeFile(t, "no_such_key: 1\n")
	_, err := Load([]string{"-c", path}, envMap(map[string]string{"JWT_SECRET": testSecret}))
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "")
	cfg, err := Load([]string{"-c", path}, envMap(map[string]string{"JWT_SECRET": testSecret}))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HostPort)
}

func TestLoad_EnvParsing(t *testing.T) {
	cfg, err := Load(nil, envMap(map[string]string{
		"JWT_SECRET":                   testSecret,
		"ALLOWED_ORIGINS":              " https://a.example , ,https://b.example",
		"COOKIE_SECURE":                "false",
		"TOKEN_TTL":                    "24h",
		"MAX_CONNECTIONS_PER_IDENTITY": "2",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 2, cfg.MaxConnectionsPerIdentity)
}

func TestLoad_InvalidEnvDuration(t *testing.T) {
	_, err := Load(nil, envMap(map[string]string{"JWT_SECRET": testSecret, "REAPER_INTERVAL": "soon"}))
	assert.ErrorContains(t, err, "REAPER_INTERVAL")
}

func TestLoad_NonPositiveDuration(t *testing.T) {
	_, err := Load([]string{"--reaper-interval", "0s"}, envMap(map[string]string{"JWT_SECRET": testSecret}))
	assert.Error(t, err)
}

func TestLoad_Help(t *testing.T) {
	_, err := Load([]string{"--help"}, envMap(nil))
	assert.ErrorIs(t, err, pflag.ErrHelp)
	assert.Contains(t, Usage(), "--retention")
}
