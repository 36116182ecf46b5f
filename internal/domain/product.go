package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product: позиция каталога. Для сервиса заказов доступна только на чтение.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate проверяет товар перед записью в каталог.
func (p Product) Validate() error {
	v := NewValidationError()
	if strings.TrimSpace(p.Name) == "" {
		v.Add("name", "can't be blank")
	}
	if p.Price.IsNegative() {
		v.Add("price", "must be greater than or equal to 0")
	}
	return v.Err()
}
