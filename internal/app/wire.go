package app

import (
	"context"
	"fmt"
	"log/slog"

	localblob "github.com/JonahBenton321/college-football-prediction/internal/blob/local"
	s3blob "github.com/JonahBenton321/college-football-prediction/internal/blob/s3"
	"github.com/JonahBenton321/college-football-prediction/internal/cache/redis"
	"github.com/JonahBenton321/college-football-prediction/internal/config"
	"github.com/JonahBenton321/college-football-prediction/internal/domain"
	"github.com/JonahBenton321/college-football-prediction/internal/notify"
	"github.com/JonahBenton321/college-football-prediction/internal/server/handler"
	"github.com/JonahBenton321/college-football-prediction/internal/store/postgres"
)

// Dependencies bundles every collaborator the modes need. Optional backends
// are left nil when they are not configured. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Blob storage for raw and processed tables.
	Blobs domain.BlobStore

	// Stores, set when postgres.enabled.
	Records domain.GameRecordStore
	Runs    domain.RunStore
	Audit   domain.AuditStore

	// Caches, set when redis.enabled.
	RunCache    domain.RunCache
	Locks       domain.LockManager
	Bus         *redis.SignalBus
	RateLimiter domain.RateLimiter

	// Archiver copies old runs into blob storage; set when Postgres is wired.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier

	// HealthChecks probe each connected backend for /api/health.
	HealthChecks map[string]handler.HealthCheck
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

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Blob storage ---
	switch cfg.Storage.Backend {
	case "s3":
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Blobs = s3blob.NewStore(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health
	default:
		store, err := localblob.New(cfg.Storage.LocalDir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: local storage: %w", err)
		}
		deps.Blobs = store
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("postgres migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		runs := postgres.NewRunStore(pool)
		audit := postgres.NewAuditStore(pool)
		deps.Records = postgres.NewGameRecordStore(pool)
		deps.Runs = runs
		deps.Audit = audit
		deps.Archiver = s3blob.NewArchiver(deps.Blobs, runs, audit)
		deps.HealthChecks["postgres"] = pgClient.Health
	}

	// --- Redis ---
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

		deps.RunCache = redis.NewRunCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.HealthChecks["redis"] = redisClient.Health
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
