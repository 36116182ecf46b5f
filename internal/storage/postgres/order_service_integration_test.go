package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/orders"
)

func TestOrderService_PostgresUpdateOnSingleConnectionPool(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	store.DB().SetMaxOpenConns(1)
	ctx := context.Background()

	products := NewProductRepository(store)
	product, err := products.Create(ctx, domain.Product{Name: "Desk lamp", Price: decimal.RequireFromString("12.50")})
	require.NoError(t, err)

	service := orders.NewService(NewOrderRepository(store), products)
	quantity := func(v int) *int { return &v }

	created, err := service.Create(ctx, orders.CreateInput{ProductID: &product.ID, Quantity: quantity(2)})
	require.NoError(t, err)

	updateCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	updated, err := service.Update(updateCtx, created.ID, orders.UpdateInput{Quantity: quantity(4)})
	require.NoError(t, err)
	require.Equal(t, 4, updated.Quantity)
	require.Equal(t, "50.00", updated.TotalPrice.StringFixed(2))

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = service.Update(updateCtx, created.ID, orders.UpdateInput{Quantity: quantity(i + 1)})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	reloaded, err := NewOrderRepository(store).Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, decimal.RequireFromString("12.50").Mul(decimal.NewFromInt(int64(reloaded.Quantity))).StringFixed(2),
		reloaded.TotalPrice.StringFixed(2))
}

func TestOrderRepository_PostgresMutationReadsCatalogInTransaction(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	store.DB().SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	product, err := NewProductRepository(store).Create(ctx, domain.Product{Name: "Chair", Price: decimal.RequireFromString("40")})
	require.NoError(t, err)

	repo := NewOrderRepository(store)
	order := sampleOrder("order-tx-catalog", time.Now().UTC())
	order.ProductID = product.ID
	require.NoError(t, repo.Create(ctx, order))

	updated, err := repo.Update(ctx, order.ID, func(o *domain.Order, catalog domain.ProductReader) error {
		require.NotNil(t, catalog)
		p, err := catalog.Get(ctx, o.ProductID)
		if err != nil {
			return err
		}
		o.Reprice(p.Price)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "80.00", updated.TotalPrice.StringFixed(2))

	_, err = repo.Update(ctx, order.ID, func(_ *domain.Order, catalog domain.ProductReader) error {
		_, err := catalog.Get(ctx, product.ID+100)
		return err
	})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}
