package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/poolbet/internal/blob/s3"
	"github.com/alanyoungcy/poolbet/internal/cache/memory"
	"github.com/alanyoungcy/poolbet/internal/cache/redis"
	"github.com/alanyoungcy/poolbet/internal/config"
	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/notify"
	"github.com/alanyoungcy/poolbet/internal/server/handler"
	"github.com/alanyoungcy/poolbet/internal/store/postgres"
	"github.com/alanyoungcy/poolbet/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Store domain.PoolStore
	Audit domain.AuditStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	ReportCache domain.ReportCache

	// Settlement archive; nil unless s3 is enabled.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe every external backend that was wired.
	HealthChecks []handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Pool store ---
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	closers = append(closers, st.Close)
	deps.Store = st.Store
	deps.Audit = st.Audit
	deps.HealthChecks = append(deps.HealthChecks, st.Health)

	// --- Redis, or in-process adapters for a single node ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.ReportCache = redis.NewReportCache(redisClient, cfg.Redis.ReportTTL.Duration)
		deps.HealthChecks = append(deps.HealthChecks, handler.HealthCheck{Name: "redis", Check: redisClient.Ping})
	} else {
		logger.Warn("wire: redis disabled, using in-process locks, bus and rate limits (single node only)")
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus(cfg.Redis.StreamMaxLen)
		deps.RateLimiter = memory.NewRateLimiter()
		deps.ReportCache = memory.NewReportCache()
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
		s3Client, err := NewS3Client(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Store,
			deps.Audit,
		)
		deps.HealthChecks = append(deps.HealthChecks, handler.HealthCheck{Name: "s3", Check: s3Client.Health})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// StoreHandle is an open Pool Store together with its audit log.
type StoreHandle struct {
	Store  domain.PoolStore
	Audit  domain.AuditStore
	Health handler.HealthCheck
	Close  func()
}

// OpenStore opens the configured Pool Store backend. Postgres migrations run
// when postgres.run_migrations is set.
func OpenStore(ctx context.Context, cfg *config.Config) (*StoreHandle, error) {
	if cfg.Store.Driver == "postgres" {
		pgClient, err := postgres.New(ctx, postgresConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				pgClient.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		pool := pgClient.Pool()
		return &StoreHandle{
			Store:  postgres.NewPoolStore(pool),
			Audit:  postgres.NewAuditStore(pool),
			Health: handler.HealthCheck{Name: "postgres", Check: pool.Ping},
			Close:  pgClient.Close,
		}, nil
	}

	st, err := sqlite.Open(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return &StoreHandle{
		Store:  st,
		Audit:  st,
		Health: handler.HealthCheck{Name: "sqlite", Check: st.Ping},
		Close:  func() { _ = st.Close() },
	}, nil
}

func postgresConfig(cfg *config.Config) postgres.ClientConfig {
	return postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	}
}

// NewS3Client builds the archive client from cfg.S3.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3blob.Client, error) {
	return s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
}

// Migrate applies the store schema and returns. SQLite applies its schema on
// open; postgres runs the embedded migrations.
func Migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Driver != "postgres" {
		st, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		return st.Close()
	}
	pgClient, err := postgres.New(ctx, postgresConfig(cfg))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer pgClient.Close()
	return pgClient.RunMigrations(ctx)
}
