package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/orders/internal/storage/redis"
)

// runtimeDependencies: хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker
	closeFn            func() error
}

// initRuntimeDependencies открывает хранилища согласно cfg.StorageDriver и cfg.IdempotencyDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}
	var closers []func() error

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory:
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
	case StorageDriverPostgres:
		store, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		closers = append(closers, store.Close)
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.storageChecker = healthcheck.NewPingChecker("postgres", 0, store.Ping)
		if cfg.idempotencyDriver() == StorageDriverPostgres {
			deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	switch cfg.idempotencyDriver() {
	case StorageDriverMemory:
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
	case StorageDriverPostgres:
		if deps.idempotencyRepo == nil {
			closeAll(closers, logger)
			return nil, errors.New("postgres idempotency driver requires postgres storage driver")
		}
	case IdempotencyDriverRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		repo := redisstore.NewIdempotencyRepository(client)
		if err := repo.Ping(ctx); err != nil {
			_ = client.Close()
			closeAll(closers, logger)
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, client.Close)
		deps.idempotencyRepo = repo
		deps.idempotencyChecker = healthcheck.NewPingChecker("redis", 0, repo.Ping)
		logger.WithField("addr", cfg.RedisAddr).Info("redis idempotency store initialized")
	default:
		closeAll(closers, logger)
		return nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.IdempotencyDriver)
	}

	deps.closeFn = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return deps, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("postgres storage driver requires ORDERS_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	store.SetLogger(logger.WithField("component", "migrator"))

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
	} else {
		pending, err := store.PendingMigrations(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to read migration status")
		} else if len(pending) > 0 {
			logger.WithField("pending", pending).Warn("postgres schema has pending migrations")
		}
	}

	logger.Info("postgres storage initialized")
	return store, nil
}

func closeAll(closers []func() error, logger *log.Entry) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}
}
