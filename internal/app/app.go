// Package app assembles the SendMe components from configuration.
// It is shared by the server and the admin tooling.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/cache/memory"
	"github.com/prn-tf/sendme/internal/config"
	"github.com/prn-tf/sendme/internal/lock"
	"github.com/prn-tf/sendme/internal/metrics"
	"github.com/prn-tf/sendme/internal/repository"
	"github.com/prn-tf/sendme/internal/repository/postgres"
	"github.com/prn-tf/sendme/internal/repository/redis"
	"github.com/prn-tf/sendme/internal/repository/sqlite"
	"github.com/prn-tf/sendme/internal/service"
	"github.com/prn-tf/sendme/internal/storage"
	"github.com/prn-tf/sendme/internal/storage/filesystem"
	memstore "github.com/prn-tf/sendme/internal/storage/memory"
	s3store "github.com/prn-tf/sendme/internal/storage/s3"
)

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "sendme").Logger()
}

// Database bundles the repositories with the migrator of the same backend.
type Database struct {
	*repository.Repositories
	Migrator repository.Migrator
}

// OpenDatabase connects to the configured database driver.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Database, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Database{Repositories: postgres.NewRepositories(db), Migrator: db}, nil

	case "sqlite":
		sqlCfg := sqlite.DefaultConfig(cfg.Path)
		if cfg.JournalMode != "" {
			sqlCfg.JournalMode = cfg.JournalMode
		}
		if cfg.BusyTimeout > 0 {
			sqlCfg.BusyTimeout = cfg.BusyTimeout
		}
		if cfg.CacheSize != 0 {
			sqlCfg.CacheSize = cfg.CacheSize
		}
		if cfg.SynchronousMode != "" {
			sqlCfg.SynchronousMode = cfg.SynchronousMode
		}
		db, err := sqlite.NewDB(ctx, sqlCfg, logger)
		if err != nil {
			return nil, err
		}
		return &Database{Repositories: sqlite.NewRepositories(db), Migrator: db}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenStorage creates the configured blob store. A non-nil m wraps it with
// metrics.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, chunkSize int, m *metrics.Metrics, logger zerolog.Logger) (storage.Backend, error) {
	var (
		backend storage.Backend
		err     error
	)

	switch cfg.Backend {
	case "filesystem":
		backend, err = filesystem.New(filesystem.Config{DataDir: cfg.DataDir, ChunkSize: chunkSize}, logger)
	case "s3":
		s3cfg := s3store.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
			PartSize:        cfg.S3.PartSize,
		}
		client, clientErr := s3store.NewClient(ctx, s3cfg)
		if clientErr != nil {
			return nil, clientErr
		}
		backend, err = s3store.New(client, s3cfg, logger)
	case "memory":
		logger.Warn().Msg("using in-memory blob storage, content is lost on restart")
		backend = memstore.New()
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("backend", cfg.Backend).Msg("blob storage initialized")
	return storage.NewInstrumented(backend, m), nil
}

// Coordination holds the short-lived state store and the job locker.
// Both live in Redis when it is enabled and in process memory otherwise.
type Coordination struct {
	Cache  repository.Cache
	Locker lock.Locker

	closers []func()
}

// Close releases the Redis client or stops the in-memory janitors.
func (c *Coordination) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

// OpenCoordination connects to Redis when enabled.
func OpenCoordination(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Coordination, error) {
	if !cfg.Enabled {
		cache := memory.NewCache()
		locker := lock.NewMemoryLocker()
		logger.Info().Msg("redis disabled, using in-memory cache and locks")
		return &Coordination{
			Cache:   cache,
			Locker:  locker,
			closers: []func(){cache.Stop, locker.Stop},
		}, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Coordination{
		Cache:   redis.NewCache(client),
		Locker:  lock.NewRedisLocker(redis.NewDistributedLock(client)),
		closers: []func(){func() { closeRedis(client, logger) }},
	}, nil
}

func closeRedis(client *goredis.Client, logger zerolog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close redis client")
	}
}

// Services is the assembled service layer.
type Services struct {
	Ledger   *service.CapacityLedger
	Messages *service.MessageService
	Auth     *service.AuthService
	Purger   *service.Purger
}

// NewServices wires the service layer. events may be nil.
func NewServices(
	cfg *config.Config,
	db *Database,
	blobs storage.Backend,
	coord *Coordination,
	events service.EventPublisher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Services {
	ledger := service.NewCapacityLedger(db.User, db.Tx, m, logger)
	messages := service.NewMessageService(db.Message, db.Tx, ledger, blobs, events, m, logger, service.MessageConfig{
		UploadTimeout: cfg.Upload.Timeout,
		MaxUploadSize: cfg.Upload.MaxSize,
	})
	tokens := service.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	auth := service.NewAuthService(db.User, db.RefreshToken, db.Tx, coord.Cache, tokens,
		service.LogNotifier{Logger: logger}, logger, service.AuthConfig{
			OTPTTL:          cfg.Auth.OTPTTL,
			BcryptCost:      cfg.Auth.BcryptCost,
			DefaultMaxQuota: cfg.Quota.DefaultMaxBytes,
		})
	purger := service.NewPurger(db.Message, db.RefreshToken, messages, coord.Locker, m, logger, service.PurgeConfig{
		Enabled:   cfg.Purge.Enabled,
		Interval:  cfg.Purge.Interval,
		Retention: cfg.Purge.Retention,
		BatchSize: cfg.Purge.BatchSize,
		DryRun:    cfg.Purge.DryRun,
	})

	return &Services{
		Ledger:   ledger,
		Messages: messages,
		Auth:     auth,
		Purger:   purger,
	}
}

// NewMetrics registers the collectors on the default registry when enabled.
func NewMetrics(cfg config.MetricsConfig) *metrics.Metrics {
	if !cfg.Enabled {
		return nil
	}
	return metrics.Default()
}
