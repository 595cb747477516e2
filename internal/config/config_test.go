package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Auth.JWTSecret = "secret"
	return cfg
}

func TestDefaultsValidateWithSecret(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "unknown driver"},
		{"empty sqlite path", func(c *Config) { c.Store.SQLitePath = " " }, "sqlite_path"},
		{"postgres without host", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Postgres.Host = ""
		}, "postgres: host"},
		{"postgres pool bounds", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"redis enabled without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis: addr"},
		{"s3 enabled without bucket", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"api needs jwt secret", func(c *Config) {
			c.Mode = "api"
			c.Auth.JWTSecret = ""
		}, "jwt_secret"},
		{"negative rate", func(c *Config) { c.Server.StakeRatePerMinute = -1 }, "rate limits"},
		{"empty house account", func(c *Config) { c.Engine.HouseAccountID = "" }, "house_account_id"},
		{"zero retries", func(c *Config) { c.Engine.MaxCommitRetries = 0 }, "max_commit_retries"},
		{"inverted retry delays", func(c *Config) {
			c.Engine.RetryMaxDelay = duration{time.Millisecond}
		}, "retry delays"},
		{"bad archive cron", func(c *Config) { c.Worker.ArchiveCron = "every day" }, "archive_cron"},
		{"bad expiry cron", func(c *Config) { c.Worker.ExpiryWatchCron = "* * *" }, "expiry_watch_cron"},
		{"zero lookback", func(c *Config) { c.Worker.ArchiveLookback = duration{} }, "archive_lookback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateWorkerModeSkipsServer(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "worker"
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "nope"
	cfg.Engine.HouseAccountID = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "house_account_id")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolbet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "api"

[store]
driver = "postgres"

[postgres]
host = "db.internal"

[engine]
settle_lock_ttl = "45s"

[worker]
archive_cron = "@hourly"
`), 0o600))

	t.Setenv("POOLBET_AUTH_JWT_SECRET", "from-env")
	t.Setenv("POOLBET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("POOLBET_ENGINE_MAX_COMMIT_RETRIES", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port, "defaults survive a partial file")
	assert.Equal(t, 45*time.Second, cfg.Engine.SettleLockTTL.Duration)
	assert.Equal(t, "@hourly", cfg.Worker.ArchiveCron)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3, cfg.Engine.MaxCommitRetries)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolbet.toml")
	require.NoError(t, os.WriteFile(path, []byte("[auth]\ntoken_ttl = \"soon\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg"
	cfg.S3.SecretKey = "s3"

	out := cfg.Redacted()
	assert.Equal(t, "***", out.Auth.JWTSecret)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
