// Package listing отдаёт страницы заказов и товаров: разбирает page, limit,
// sort и status и передаёт окно выборки в репозиторий.
package listing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

const (
	tracerName = "github.com/vladislavdragonenkov/orderdesk/internal/service/listing"

	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxPage держит (page-1)*limit в пределах int.
	MaxPage = math.MaxInt / MaxLimit

	defaultOrderSort   = "created_at"
	defaultProductSort = "id"
)

// Params содержит сырые значения query-параметров.
type Params struct {
	Page   string
	Limit  string
	Sort   string
	Status string
}

// Page описывает одну страницу результата.
type Page[T any] struct {
	Page  int
	Limit int
	Total int
	Items []T
}

// Service читает списки из репозиториев.
type Service struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	tracer   trace.Tracer
}

// NewService создаёт сервис списков. provider может быть nil.
func NewService(orders domain.OrderRepository, products domain.ProductRepository, provider trace.TracerProvider) *Service {
	tracer := otel.Tracer(tracerName)
	if provider != nil {
		tracer = provider.Tracer(tracerName)
	}
	return &Service{orders: orders, products: products, tracer: tracer}
}

// ListOrders возвращает страницу заказов с необязательным фильтром по статусу.
func (s *Service) ListOrders(ctx context.Context, params Params) (Page[domain.Order], error) {
	ctx, span := s.tracer.Start(ctx, "listing.ListOrders")
	defer span.End()

	query, page, err := buildQuery(params, domain.OrderSortFields, defaultOrderSort)
	if err != nil {
		return Page[domain.Order]{}, err
	}
	if raw := strings.TrimSpace(params.Status); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return Page[domain.Order]{}, domain.FieldError("status", "must be one of "+joinStatuses())
		}
		query.Status = status
	}
	span.SetAttributes(
		attribute.Int("listing.offset", query.Offset),
		attribute.Int("listing.limit", query.Limit),
		attribute.String("listing.status", string(query.Status)),
	)

	items, total, err := s.orders.List(ctx, query)
	if err != nil {
		return Page[domain.Order]{}, fmt.Errorf("list orders: %w", err)
	}
	return Page[domain.Order]{Page: page, Limit: query.Limit, Total: total, Items: items}, nil
}

// ListProducts возвращает страницу каталога.
func (s *Service) ListProducts(ctx context.Context, params Params) (Page[domain.Product], error) {
	ctx, span := s.tracer.Start(ctx, "listing.ListProducts")
	defer span.End()

	query, page, err := buildQuery(params, domain.ProductSortFields, defaultProductSort)
	if err != nil {
		return Page[domain.Product]{}, err
	}
	span.SetAttributes(
		attribute.Int("listing.offset", query.Offset),
		attribute.Int("listing.limit", query.Limit),
	)

	items, total, err := s.products.List(ctx, query)
	if err != nil {
		return Page[domain.Product]{}, fmt.Errorf("list products: %w", err)
	}
	return Page[domain.Product]{Page: page, Limit: query.Limit, Total: total, Items: items}, nil
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "listing.GetProduct", trace.WithAttributes(attribute.Int64("product.id", id)))
	defer span.End()
	return s.products.Get(ctx, id)
}

func buildQuery(params Params, allowed map[string]struct{}, fallback string) (domain.ListQuery, int, error) {
	page, limit := ParseWindow(params.Page, params.Limit)
	sortBy, err := ParseSort(params.Sort, allowed, fallback)
	if err != nil {
		return domain.ListQuery{}, 0, err
	}
	return domain.ListQuery{
		Offset: (page - 1) * limit,
		Limit:  limit,
		Sort:   sortBy,
	}, page, nil
}

// ParseWindow разбирает page и limit. Пустые, нечисловые и неположительные
// значения заменяются значениями по умолчанию, limit ограничен MaxLimit,
// page ограничен MaxPage.
func ParseWindow(rawPage, rawLimit string) (page, limit int) {
	page = min(parsePositive(rawPage, DefaultPage), MaxPage)
	limit = min(parsePositive(rawLimit, DefaultLimit), MaxLimit)
	return page, limit
}

// parsePositive возвращает math.MaxInt для положительных чисел вне диапазона int.
func parsePositive(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	switch {
	case errors.Is(err, strconv.ErrRange) && value > 0:
		return math.MaxInt
	case err != nil || value <= 0:
		return fallback
	}
	return value
}

// ParseSort принимает "field", "-field" и "field asc|desc".
func ParseSort(raw string, allowed map[string]struct{}, fallback string) (domain.Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Sort{Field: fallback}, nil
	}

	var result domain.Sort
	parts := strings.Fields(raw)
	switch len(parts) {
	case 1:
		result.Field = parts[0]
		if strings.HasPrefix(result.Field, "-") {
			result.Field = strings.TrimPrefix(result.Field, "-")
			result.Desc = true
		}
	case 2:
		result.Field = parts[0]
		switch strings.ToLower(parts[1]) {
		case "asc":
		case "desc":
			result.Desc = true
		default:
			return domain.Sort{}, domain.FieldError("sort", "direction must be asc or desc")
		}
	default:
		return domain.Sort{}, domain.FieldError("sort", "must be a field name with optional direction")
	}

	result.Field = strings.ToLower(result.Field)
	if _, ok := allowed[result.Field]; !ok {
		return domain.Sort{}, domain.FieldError("sort", "must be one of "+joinFields(allowed))
	}
	return result, nil
}

func joinFields(allowed map[string]struct{}) string {
	fields := make([]string, 0, len(allowed))
	for field := range allowed {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}

func joinStatuses() string {
	statuses := make([]string, 0, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		statuses = append(statuses, string(status))
	}
	return strings.Join(statuses, ", ")
}
