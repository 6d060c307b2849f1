package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/rally/internal/adapters/cache"
	"github.com/okian/rally/internal/adapters/database"
	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/status"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/adapters/repository"
	app "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/config"
	"github.com/okian/rally/internal/domain/dedupe"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/pkg/logger"
)

// memoryCacheSweep is how often expired in-process cache entries are purged.
const memoryCacheSweep = time.Minute

// backends holds the service options built from configuration and the
// closers to run on shutdown, in order.
type backends struct {
	opts    []app.Option
	closers []func() error
}

func (b *backends) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildBackends connects every configured store. On error, whatever was
// already opened is closed.
func buildBackends(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.close()
		}
	}()

	if err := b.storage(ctx, cfg, log); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		rdb = database.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		b.closers = append(b.closers, rdb.Close)
		if err := database.PingRedis(ctx, rdb); err != nil {
			return nil, err
		}
		return rdb, nil
	}

	if err := b.cache(cfg, redisClient); err != nil {
		return nil, err
	}
	if err := b.queue(ctx, cfg, log, redisClient); err != nil {
		return nil, err
	}

	b.opts = append(b.opts,
		app.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithWindow(cfg.DedupeWindow()))),
		app.WithCalculator(scoring.NewCalculator(
			scoring.WithAlpha(cfg.Alpha),
			scoring.WithBeta(cfg.Beta),
			scoring.WithNewMemberWindow(cfg.NewMemberWindow()),
		)),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithCacheTTL(cfg.CacheTTL()),
		app.WithTaskTimeout(cfg.TaskTimeout()),
		app.WithRetryPolicy(worker.RetryPolicy{
			MaxAttempts:    cfg.MaxAttempts,
			BaseDelay:      cfg.RetryDelay(),
			WriteBaseDelay: cfg.WriteRetryDelay(),
			MaxDelay:       cfg.MaxRetryDelay(),
		}),
		app.WithLogger(log.Named("service")),
	)
	return b, nil
}

func (b *backends) storage(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	switch cfg.Storage {
	case config.BackendPostgres:
		db, err := repository.OpenPostgres(cfg.DatabaseDSN, repository.WithLogger(log.Named("gorm")))
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		b.closers = append(b.closers, sqlDB.Close)
		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
		b.opts = append(b.opts,
			app.WithScoreStore(repository.NewGormScoreStore(db, repository.WithLogger(log.Named("scores")))),
			app.WithCampaignRepository(repository.NewGormCampaignRepository(db)),
		)
	default:
		log.Warn(ctx, "using in-memory storage; scores are lost on restart")
		b.opts = append(b.opts,
			app.WithScoreStore(repository.NewMemoryScoreStore()),
			app.WithCampaignRepository(repository.NewMemoryCampaignRepository()),
		)
	}
	return nil
}

func (b *backends) cache(cfg *config.Config, redisClient func() (*redis.Client, error)) error {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		rdb, err := redisClient()
		if err != nil {
			return err
		}
		b.opts = append(b.opts, app.WithCache(cache.NewRedisCache(rdb)))
	case config.BackendMemcached:
		mc := database.NewMemcached(strings.Split(cfg.MemcachedAddr, ",")...)
		if err := database.PingMemcached(mc); err != nil {
			return err
		}
		b.closers = append(b.closers, mc.Close)
		b.opts = append(b.opts, app.WithCache(cache.NewMemcachedCache(mc)))
	default:
		b.opts = append(b.opts, app.WithCache(cache.NewMemoryCache(memoryCacheSweep)))
	}
	return nil
}

func (b *backends) queue(ctx context.Context, cfg *config.Config, log logger.Logger, redisClient func() (*redis.Client, error)) error {
	switch cfg.QueueBackend {
	case config.BackendRedis:
		rdb, err := redisClient()
		if err != nil {
			return err
		}
		q := queue.NewRedisQueue(rdb, queue.WithRedisCapacity(cfg.QueueSize))
		recovered, err := q.Recover(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			log.Info(ctx, "requeued tasks left in flight", logger.Int("count", recovered))
		}
		b.opts = append(b.opts,
			app.WithQueue(q),
			app.WithStatusStore(status.NewRedisStore(rdb, cfg.TaskResultTTL())),
		)
	default:
		b.opts = append(b.opts,
			app.WithQueue(queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))),
			app.WithStatusStore(status.NewMemoryStore(cfg.TaskResultTTL())),
		)
	}
	return nil
}
