package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/petmarket/internal/health"
	"github.com/vladislavdragonenkov/petmarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/petmarket/internal/storage/postgres"
	"github.com/vladislavdragonenkov/petmarket/internal/storage/redisx"
)

// runtimeDependencies — хранилища, выбранные по конфигурации.
type runtimeDependencies struct {
	products        domain.ProductStore
	txm             domain.TxManager
	orders          domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	checkers        map[string]healthcheck.Checker
	closers         []func() error
}

func (d *runtimeDependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.products = store.Products()
		deps.txm = store
		deps.orders = store.Orders()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage selected but PostgresDSN is empty")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = deps.close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		} else if pending, err := store.PendingMigrations(ctx); err != nil {
			logger.WithError(err).Warn("failed to check pending migrations")
		} else if len(pending) > 0 {
			logger.WithField("pending", pending).Warn("database schema is behind, run cmd/migrate")
		}

		deps.products = store.Products()
		deps.txm = store
		deps.orders = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", store.Ping)
		logger.Info("using postgres storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rdb := redisx.New(addr)
		repo := redisx.NewIdempotencyRepository(rdb)
		deps.idempotencyRepo = repo
		deps.closers = append(deps.closers, rdb.Close)
		// без Redis не работают только повторы по Idempotency-Key
		deps.checkers["redis"] = healthcheck.NewOptionalChecker("redis", repo.Ping)
		logger.WithField("addr", addr).Info("idempotency keys are stored in redis")
	}

	return deps, nil
}
