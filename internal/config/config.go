// Package config defines the top-level configuration for the pool engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/poolbet/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLBET_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Notify   NotifyConfig   `toml:"notify"`
	Engine   EngineConfig   `toml:"engine"`
	Worker   WorkerConfig   `toml:"worker"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the Pool Store backend.
type StoreConfig struct {
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// in-process adapters are used instead.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int      `toml:"stream_max_len"`
	ReportTTL    duration `toml:"report_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	QuoteRatePerMinute int      `toml:"quote_rate_per_minute"`
	StakeRatePerMinute int      `toml:"stake_rate_per_minute"`
}

// AuthConfig holds the bearer-token signing parameters.
type AuthConfig struct {
	JWTSecret string   `toml:"jwt_secret"`
	TokenTTL  duration `toml:"token_ttl"`
	Issuer    string   `toml:"issuer"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// EngineConfig tunes stake admission and settlement.
type EngineConfig struct {
	HouseAccountID   string   `toml:"house_account_id"`
	MaxCommitRetries int      `toml:"max_commit_retries"`
	RetryBaseDelay   duration `toml:"retry_base_delay"`
	RetryMaxDelay    duration `toml:"retry_max_delay"`
	SettleLockTTL    duration `toml:"settle_lock_ttl"`
}

// WorkerConfig schedules the background jobs.
type WorkerConfig struct {
	ArchiveCron     string   `toml:"archive_cron"`
	ExpiryWatchCron string   `toml:"expiry_watch_cron"`
	ArchiveAfter    duration `toml:"archive_after"`
	ArchiveLookback duration `toml:"archive_lookback"`
	ExpiryDedupTTL  duration `toml:"expiry_dedup_ttl"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "poolbet.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			ReportTTL:    duration{24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolbet-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			QuoteRatePerMinute: 120,
			StakeRatePerMinute: 30,
		},
		Auth: AuthConfig{
			TokenTTL: duration{24 * time.Hour},
			Issuer:   "poolbet",
		},
		Notify: NotifyConfig{
			Events: []string{"event_settled", "invariant_violation", "event_expired_unsettled", "archive_failed"},
		},
		Engine: EngineConfig{
			HouseAccountID:   "house",
			MaxCommitRetries: 8,
			RetryBaseDelay:   duration{5 * time.Millisecond},
			RetryMaxDelay:    duration{250 * time.Millisecond},
			SettleLockTTL:    duration{30 * time.Second},
		},
		Worker: WorkerConfig{
			ArchiveCron:     "0 */15 * * * *",
			ExpiryWatchCron: "@every 1m",
			ArchiveAfter:    duration{5 * time.Minute},
			ArchiveLookback: duration{7 * 24 * time.Hour},
			ExpiryDedupTTL:  duration{6 * time.Hour},
		},
		Mode:     "all",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"all":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			errs = append(errs, "store: sqlite_path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Redis.StreamMaxLen < 0 {
		errs = append(errs, "redis: stream_max_len must be >= 0")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth: jwt_secret is required for mode "+c.Mode)
		}
	}
	if c.Server.QuoteRatePerMinute < 0 || c.Server.StakeRatePerMinute < 0 {
		errs = append(errs, "server: rate limits must be >= 0")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be > 0")
	}

	// Engine
	if strings.TrimSpace(c.Engine.HouseAccountID) == "" {
		errs = append(errs, "engine: house_account_id must not be empty")
	}
	if c.Engine.MaxCommitRetries < 1 {
		errs = append(errs, "engine: max_commit_retries must be >= 1")
	}
	if c.Engine.RetryBaseDelay.Duration < 0 || c.Engine.RetryMaxDelay.Duration < c.Engine.RetryBaseDelay.Duration {
		errs = append(errs, "engine: retry delays must satisfy 0 <= retry_base_delay <= retry_max_delay")
	}
	if c.Engine.SettleLockTTL.Duration <= 0 {
		errs = append(errs, "engine: settle_lock_ttl must be > 0")
	}

	// Worker
	if err := pipeline.ValidateCron(c.Worker.ArchiveCron); err != nil {
		errs = append(errs, fmt.Sprintf("worker: archive_cron %q: %v", c.Worker.ArchiveCron, err))
	}
	if err := pipeline.ValidateCron(c.Worker.ExpiryWatchCron); err != nil {
		errs = append(errs, fmt.Sprintf("worker: expiry_watch_cron %q: %v", c.Worker.ExpiryWatchCron, err))
	}
	if c.Worker.ArchiveAfter.Duration < 0 {
		errs = append(errs, "worker: archive_after must be >= 0")
	}
	if c.Worker.ArchiveLookback.Duration <= 0 {
		errs = append(errs, "worker: archive_lookback must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
