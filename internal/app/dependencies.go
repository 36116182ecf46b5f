package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderdesk/internal/health"
	"github.com/vladislavdragonenkov/orderdesk/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderdesk/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orderdesk/internal/storage/redisstore"
)

const dependencyInitTimeout = 30 * time.Second

// runtimeDependencies содержит хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	orderRepo       domain.OrderRepository
	productRepo     domain.ProductRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository

	// storageChecker обязателен для готовности, idempotencyChecker только деградирует статус.
	storageChecker     healthcheck.Checker
	idempotencyChecker healthcheck.Checker
	// cleanupEnabled выключен для Redis: ключи истекают сами.
	cleanupEnabled bool

	closers []func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies открывает основное хранилище и хранилище ключей идемпотентности.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	initCtx, cancel := context.WithTimeout(ctx, dependencyInitTimeout)
	defer cancel()

	deps := &runtimeDependencies{}

	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch driver {
	case "", StorageDriverMemory:
		deps.orderRepo = memory.NewOrderRepository()
		deps.productRepo = memory.NewProductRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if err := initPostgres(initCtx, cfg, deps, logger); err != nil {
			deps.close(logger)
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q (use %s|%s)", cfg.StorageDriver, StorageDriverMemory, StorageDriverPostgres)
	}

	idemDriver := strings.ToLower(strings.TrimSpace(cfg.IdempotencyDriver))
	switch idemDriver {
	case "", IdempotencyDriverStorage:
		deps.cleanupEnabled = true
	case IdempotencyDriverRedis:
		if err := initRedis(initCtx, cfg, deps, logger); err != nil {
			deps.close(logger)
			return nil, err
		}
	default:
		deps.close(logger)
		return nil, fmt.Errorf("unsupported idempotency driver %q (use %s|%s)", cfg.IdempotencyDriver, IdempotencyDriverStorage, IdempotencyDriverRedis)
	}

	return deps, nil
}

func initPostgres(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return errors.New("postgres storage driver requires ORDERDESK_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, dsn, postgres.WithPoolSize(cfg.PostgresMaxConns, cfg.PostgresMaxConns))
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	deps.closers = append(deps.closers, store.Close)

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}
		state, err := store.MigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("read migration status: %w", err)
		}
		entry := logger.WithFields(log.Fields{
			"version": state.Version,
			"applied": state.Applied,
		})
		if len(state.Drifted) > 0 {
			entry.WithField("drifted", state.Drifted).Warn("applied migrations differ from embedded scripts")
		}
		entry.Info("postgres schema is up to date")
	}

	deps.orderRepo = postgres.NewOrderRepository(store)
	deps.productRepo = postgres.NewProductRepository(store)
	deps.outboxRepo = postgres.NewOutboxRepository(store)
	deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
	deps.storageChecker = healthcheck.NewPingChecker("postgres", store.Ping)
	logger.Info("using postgres storage")
	return nil
}

func initRedis(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return errors.New("redis idempotency driver requires ORDERDESK_REDIS_ADDR")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	deps.closers = append(deps.closers, client.Close)

	repo := redisstore.NewIdempotencyRepository(client)
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis %s: %w", addr, err)
	}

	deps.idempotencyRepo = repo
	deps.idempotencyChecker = healthcheck.NewPingChecker("redis", repo.Ping)
	deps.cleanupEnabled = false
	logger.WithField("addr", addr).Info("using redis for idempotency keys")
	return nil
}
