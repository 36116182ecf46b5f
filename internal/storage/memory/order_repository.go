package memory

import (
	"cmp"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

// orderRepositoryInMemory: простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	r.items[order.ID] = order
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// Update выполняет read-modify-write под эксклюзивной блокировкой.
func (r *orderRepositoryInMemory) Update(ctx context.Context, id string, mutate domain.OrderMutation) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	next := current
	if err := mutate(&next, nil); err != nil {
		return domain.Order{}, err
	}
	// ID меняться не может.
	next.ID = current.ID
	r.items[id] = next
	return next, nil
}

// Delete удаляет заказ без проверки статуса.
func (r *orderRepositoryInMemory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.items, id)
	return nil
}

// List фильтрует по статусу, сортирует и отдаёт окно [offset, offset+limit).
func (r *orderRepositoryInMemory) List(ctx context.Context, query domain.ListQuery) ([]domain.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if query.Status != "" && order.Status != query.Status {
			continue
		}
		result = append(result, order)
	}
	r.mu.RUnlock()

	field := query.Sort.Field
	if field == "" {
		field = "created_at"
	}
	sort.Slice(result, func(i, j int) bool {
		c := compareOrders(result[i], result[j], field)
		if query.Sort.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return result[i].ID < result[j].ID
	})

	return window(result, query.Offset, query.Limit), len(result), nil
}

func compareOrders(a, b domain.Order, field string) int {
	switch field {
	case "id":
		return strings.Compare(a.ID, b.ID)
	case "product_id":
		return cmp.Compare(a.ProductID, b.ProductID)
	case "quantity":
		return cmp.Compare(a.Quantity, b.Quantity)
	case "total_price":
		return a.TotalPrice.Cmp(b.TotalPrice)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// window отрезает страницу; limit <= 0 означает "без ограничения".
func window[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
