package app

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/storage/memory"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	require.NoError(t, err)

	require.NotNil(t, deps.orderRepo)
	require.NotNil(t, deps.productRepo)
	require.NotNil(t, deps.outboxRepo)
	require.NotNil(t, deps.idempotencyRepo)
	require.Nil(t, deps.storageChecker)
	require.True(t, deps.cleanupEnabled)
}

func TestInitRuntimeDependencies_ConfigErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"postgres without dsn", Config{StorageDriver: StorageDriverPostgres}, "requires ORDERDESK_POSTGRES_DSN"},
		{"unsupported storage", Config{StorageDriver: "sqlite"}, "unsupported storage driver"},
		{"redis without addr", Config{IdempotencyDriver: IdempotencyDriverRedis}, "requires ORDERDESK_REDIS_ADDR"},
		{"unsupported idempotency", Config{IdempotencyDriver: "memcached"}, "unsupported idempotency driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := initRuntimeDependencies(context.Background(), tc.cfg, log.WithField("test", tc.name))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRuntimeDependencies_CloseInReverseOrder(t *testing.T) {
	var order []string
	deps := &runtimeDependencies{closers: []func() error{
		func() error { order = append(order, "postgres"); return nil },
		func() error { order = append(order, "redis"); return errors.New("already closed") },
	}}

	deps.close(log.WithField("test", "close"))
	deps.close(log.WithField("test", "close"))

	require.Equal(t, []string{"redis", "postgres"}, order)
}

func TestSeedCatalog(t *testing.T) {
	ctx := context.Background()
	products := memory.NewProductRepository()
	logger := log.WithField("test", "seed")

	seeded, err := seedCatalog(ctx, products, logger)
	require.NoError(t, err)
	require.Equal(t, len(demoCatalog), seeded)

	// Повторный запуск не дублирует каталог.
	seeded, err = seedCatalog(ctx, products, logger)
	require.NoError(t, err)
	require.Zero(t, seeded)

	items, total, err := products.List(ctx, domain.ListQuery{Limit: 100})
	require.NoError(t, err)
	require.Equal(t, len(demoCatalog), total)
	require.Equal(t, "19.99", items[0].Price.StringFixed(2))
}
