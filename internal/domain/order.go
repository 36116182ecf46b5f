package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, количество ещё можно менять.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusProcessing: заказ взят в работу внешним процессом.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusComplete: заказ исполнен.
	OrderStatusComplete OrderStatus = "Complete"
	// OrderStatusClosed: заказ закрыт.
	OrderStatusClosed OrderStatus = "Closed"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// OrderStatuses перечисляет все допустимые статусы в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusComplete,
	OrderStatusClosed,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	raw = strings.TrimSpace(raw)
	for _, status := range OrderStatuses {
		if strings.EqualFold(raw, string(status)) {
			return status, true
		}
	}
	return "", false
}

// Order: заказ на один товар каталога.
type Order struct {
	ID         string          `json:"id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
	UserID     string          `json:"user_id"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Editable сообщает, можно ли ещё менять количество.
func (o Order) Editable() bool {
	return o.Status == OrderStatusPending
}

// Reprice пересчитывает итог по цене товара и текущему количеству.
func (o *Order) Reprice(unitPrice decimal.Decimal) {
	o.TotalPrice = TotalPrice(unitPrice, o.Quantity)
}

// TotalPrice возвращает unitPrice * quantity.
func TotalPrice(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// ValidateQuantity проверяет количество и возвращает ошибку по полю quantity.
func ValidateQuantity(quantity int) error {
	if quantity <= 0 {
		return FieldError("quantity", "must be greater than 0")
	}
	return nil
}
