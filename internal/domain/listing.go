package domain

// Поля, по которым разрешена сортировка списков.
var (
	OrderSortFields = map[string]struct{}{
		"id":          {},
		"product_id":  {},
		"quantity":    {},
		"total_price": {},
		"status":      {},
		"created_at":  {},
		"updated_at":  {},
	}
	ProductSortFields = map[string]struct{}{
		"id":         {},
		"name":       {},
		"price":      {},
		"created_at": {},
	}
)

// Sort задаёт поле и направление сортировки.
type Sort struct {
	Field string
	Desc  bool
}

// ListQuery: окно выборки для репозиториев.
type ListQuery struct {
	Offset int
	Limit  int
	Sort   Sort
	// Status фильтрует заказы; пустое значение означает "все".
	Status OrderStatus
}
