// Package orders содержит ядро жизненного цикла заказа: создание с расчётом
// суммы, изменение количества только в статусе Pending и удаление.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/metrics"
)

const (
	tracerName = "github.com/vladislavdragonenkov/orderdesk/internal/service/orders"

	// DefaultUserID используется, если вызывающий не представился.
	DefaultUserID = "anonymous"

	operationCreate = "create"
	operationUpdate = "update"
	operationDelete = "delete"
)

// CreateInput содержит поля, которые клиент может передать при создании.
// nil означает, что поле отсутствует в запросе.
type CreateInput struct {
	ProductID *int64
	Quantity  *int
}

// UpdateInput содержит единственное изменяемое поле заказа.
type UpdateInput struct {
	Quantity *int
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutbox включает публикацию событий заказа через outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithMetrics подключает счётчики операций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithDefaultUser задаёт пользователя для запросов без идентичности.
func WithDefaultUser(userID string) Option {
	return func(s *Service) {
		if userID != "" {
			s.defaultUser = userID
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracerProvider задаёт провайдер трассировки вместо глобального.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Service) {
		if provider != nil {
			s.tracer = provider.Tracer(tracerName)
		}
	}
}

// Service единственный, кто пишет total_price и решает, какие поля заказа
// можно менять после создания.
type Service struct {
	orders      domain.OrderRepository
	products    domain.ProductRepository
	outbox      domain.OutboxRepository
	logger      *log.Entry
	metrics     *metrics.OrderMetrics
	tracer      trace.Tracer
	defaultUser string
	now         func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, products domain.ProductRepository, opts ...Option) *Service {
	s := &Service{
		orders:      orders,
		products:    products,
		logger:      log.WithField("component", "order-service"),
		tracer:      otel.Tracer(tracerName),
		defaultUser: DefaultUserID,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create проверяет товар и количество, считает сумму и сохраняет заказ в статусе Pending.
func (s *Service) Create(ctx context.Context, in CreateInput) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Create")
	defer func() { s.finish(span, operationCreate, err) }()

	verr := domain.NewValidationError()
	if in.Quantity == nil {
		verr.Add("quantity", "is required")
	} else if qErr := domain.ValidateQuantity(*in.Quantity); qErr != nil {
		verr.Add("quantity", "must be greater than 0")
	}

	var product domain.Product
	if in.ProductID == nil {
		verr.Add("product_id", "is required")
	} else {
		span.SetAttributes(attribute.Int64("product.id", *in.ProductID))
		product, err = s.products.Get(ctx, *in.ProductID)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			verr.Add("product_id", "must exist")
		case err != nil:
			return domain.Order{}, fmt.Errorf("load product %d: %w", *in.ProductID, err)
		}
	}
	if err := verr.Err(); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order = domain.Order{
		ID:         uuid.NewString(),
		ProductID:  product.ID,
		Quantity:   *in.Quantity,
		TotalPrice: domain.TotalPrice(product.Price, *in.Quantity),
		UserID:     s.userID(ctx),
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if s.metrics != nil {
		amount, _ := order.TotalPrice.Float64()
		s.metrics.RecordCreatedValue(amount)
	}
	s.emit(ctx, domain.EventOrderCreated, order.ID, order)
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"product_id":  order.ProductID,
		"quantity":    order.Quantity,
		"total_price": order.TotalPrice.String(),
	}).Info("order created")
	return order, nil
}

// Update меняет количество заказа и пересчитывает сумму по текущей цене товара.
// Проверка статуса и запись выполняются атомарно для одного заказа.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (order domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Update", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { s.finish(span, operationUpdate, err) }()

	order, err = s.orders.Update(ctx, id, func(current *domain.Order, catalog domain.ProductReader) error {
		if !current.Editable() {
			return domain.ErrOrderNotPending
		}
		if in.Quantity != nil {
			if err := domain.ValidateQuantity(*in.Quantity); err != nil {
				return err
			}
			if catalog == nil {
				catalog = s.products
			}
			product, err := catalog.Get(ctx, current.ProductID)
			if err != nil {
				if errors.Is(err, domain.ErrProductNotFound) {
					return domain.FieldError("product_id", "must exist")
				}
				return fmt.Errorf("load product %d: %w", current.ProductID, err)
			}
			current.Quantity = *in.Quantity
			current.Reprice(product.Price)
		}
		current.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.emit(ctx, domain.EventOrderUpdated, order.ID, order)
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"quantity":    order.Quantity,
		"total_price": order.TotalPrice.String(),
	}).Info("order updated")
	return order, nil
}

// Delete удаляет заказ в любом статусе.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "orders.Delete", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { s.finish(span, operationDelete, err) }()

	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, domain.EventOrderDeleted, id, map[string]string{"id": id})
	s.logger.WithField("order_id", id).Info("order deleted")
	return nil
}

// Get возвращает заказ без дополнительных проверок.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := s.orders.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return order, err
}

func (s *Service) userID(ctx context.Context) string {
	if userID, ok := domain.UserIDFromContext(ctx); ok {
		return userID
	}
	return s.defaultUser
}

type orderEvent struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// emit кладёт событие в outbox. Ошибка публикации не отменяет операцию.
func (s *Service) emit(ctx context.Context, eventType, orderID string, data any) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(orderEvent{Event: eventType, OccurredAt: s.now(), Data: data})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
	}
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	defer span.End()

	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrValidation), domain.IsConflict(err):
		result = metrics.ResultRejected
	case domain.IsNotFound(err):
		result = metrics.ResultNotFound
	default:
		result = metrics.ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WithError(err).WithField("operation", operation).Error("order operation failed")
	}
	span.SetAttributes(attribute.String("order.result", result))
	s.metrics.RecordOperation(operation, result)
}
