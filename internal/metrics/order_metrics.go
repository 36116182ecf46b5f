package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций над заказами.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// OrderMetrics считает операции сервиса заказов.
type OrderMetrics struct {
	operations *prometheus.CounterVec
	totalValue prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_operations_total",
			Help:      "Total number of order operations grouped by operation and result.",
		}, []string{"operation", "result"}),
		totalValue: registerCounter(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_created_value_total",
			Help:      "Sum of total_price of created orders.",
		}),
	}
}

// RecordOperation увеличивает счётчик операции с результатом.
func (m *OrderMetrics) RecordOperation(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

// RecordCreatedValue добавляет сумму созданного заказа.
func (m *OrderMetrics) RecordCreatedValue(amount float64) {
	if m == nil || amount < 0 {
		return
	}
	m.totalValue.Add(amount)
}
