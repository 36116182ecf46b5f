package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:         id,
		ProductID:  1,
		Quantity:   2,
		TotalPrice: decimal.RequireFromString("39.98"),
		UserID:     "test_user",
		Status:     domain.OrderStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())

	require.NoError(t, repo.Create(ctx, order))
	require.ErrorIs(t, repo.Create(ctx, order), domain.ErrOrderAlreadyExists)

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, stored.ID)
	require.True(t, stored.TotalPrice.Equal(order.TotalPrice))

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_UpdateAppliesMutation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.Create(ctx, newOrder("order-1", time.Now().UTC())))

	updated, err := repo.Update(ctx, "order-1", func(o *domain.Order, _ domain.ProductReader) error {
		o.Quantity = 5
		o.ID = "hijacked"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "order-1", updated.ID)
	require.Equal(t, 5, updated.Quantity)

	stored, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, 5, stored.Quantity)
}

func TestOrderRepository_UpdateMutationErrorKeepsRecord(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.Create(ctx, newOrder("order-1", time.Now().UTC())))

	boom := errors.New("boom")
	_, err := repo.Update(ctx, "order-1", func(o *domain.Order, _ domain.ProductReader) error {
		o.Quantity = 100
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, 2, stored.Quantity)

	_, err = repo.Update(ctx, "missing", func(*domain.Order, domain.ProductReader) error { return nil })
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_UpdateSerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	order.Quantity = 0
	require.NoError(t, repo.Create(ctx, order))

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "order-1", func(o *domain.Order, _ domain.ProductReader) error {
				o.Quantity++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, writers, stored.Quantity)
}

func TestOrderRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.Create(ctx, newOrder("order-1", time.Now().UTC())))

	require.NoError(t, repo.Delete(ctx, "order-1"))
	require.ErrorIs(t, repo.Delete(ctx, "order-1"), domain.ErrOrderNotFound)

	_, total, err := repo.List(ctx, domain.ListQuery{Limit: 10})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestOrderRepository_ListPaginatesAndFilters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		order := newOrder(fmt.Sprintf("order-%02d", i), base.Add(time.Duration(i)*time.Minute))
		if i%5 == 0 {
			order.Status = domain.OrderStatusProcessing
		}
		require.NoError(t, repo.Create(ctx, order))
	}

	page, total, err := repo.List(ctx, domain.ListQuery{Offset: 10, Limit: 10, Sort: domain.Sort{Field: "created_at"}})
	require.NoError(t, err)
	require.Equal(t, 25, total)
	require.Len(t, page, 10)
	require.Equal(t, "order-10", page[0].ID)
	require.Equal(t, "order-19", page[9].ID)

	last, total, err := repo.List(ctx, domain.ListQuery{Offset: 20, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 25, total)
	require.Len(t, last, 5)

	processing, total, err := repo.List(ctx, domain.ListQuery{Limit: 2, Status: domain.OrderStatusProcessing})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, processing, 2)
	for _, order := range processing {
		require.Equal(t, domain.OrderStatusProcessing, order.Status)
	}

	beyond, total, err := repo.List(ctx, domain.ListQuery{Offset: 100, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 25, total)
	require.Empty(t, beyond)
}

func TestOrderRepository_ListSortDescending(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	for i, qty := range []int{3, 1, 2} {
		order := newOrder(fmt.Sprintf("order-%d", i), now)
		order.Quantity = qty
		require.NoError(t, repo.Create(ctx, order))
	}

	items, _, err := repo.List(ctx, domain.ListQuery{Limit: 10, Sort: domain.Sort{Field: "quantity", Desc: true}})
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 1}, []int{items[0].Quantity, items[1].Quantity, items[2].Quantity})
}

func TestOrderRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := memory.NewOrderRepository()
	require.ErrorIs(t, repo.Create(ctx, newOrder("order-1", time.Now())), context.Canceled)
}
