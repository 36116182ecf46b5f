// Package httpapi публикует REST API заказов и каталога поверх gorilla/mux.
//
// Пакет отвечает только за транспорт: разбор тела и query-параметров,
// перевод доменных ошибок в HTTP-коды и сквозные middleware (трассировка,
// метрики, access-лог, идентичность вызывающего, Idempotency-Key).
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/metrics"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/listing"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/orders"
)

const (
	tracerName = "github.com/vladislavdragonenkov/orderdesk/internal/transport/httpapi"

	// HeaderUserID передаёт идентичность вызывающего, аутентификация внешняя.
	HeaderUserID = "X-User-ID"
	// HeaderIdempotencyKey включает идемпотентное создание заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется на ответах, отданных из сохранённого результата.
	HeaderIdempotentReplay = "Idempotent-Replayed"
)

// OrderService описывает операции над заказами, доступные транспорту.
type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (domain.Order, error)
	Update(ctx context.Context, id string, in orders.UpdateInput) (domain.Order, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (domain.Order, error)
}

// Catalog описывает чтение списков и товаров.
type Catalog interface {
	ListOrders(ctx context.Context, params listing.Params) (listing.Page[domain.Order], error)
	ListProducts(ctx context.Context, params listing.Params) (listing.Page[domain.Product], error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт logger для access-лога и ошибок.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает HTTP-метрики.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracerProvider задаёт провайдер для серверных span'ов.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Server) {
		if provider != nil {
			s.tracer = provider.Tracer(tracerName)
		}
	}
}

// WithIdempotency включает обработку Idempotency-Key на POST /orders.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(s *Server) {
		s.guard = guard
	}
}

// Server: http.Handler с маршрутами API.
type Server struct {
	orders  OrderService
	catalog Catalog
	logger  *log.Entry
	metrics *metrics.HTTPMetrics
	tracer  trace.Tracer
	guard   *idempotency.Guard
	router  *mux.Router
}

// NewServer собирает маршруты API.
func NewServer(orderService OrderService, catalog Catalog, opts ...Option) *Server {
	s := &Server{
		orders:  orderService,
		catalog: catalog,
		logger:  log.WithField("component", "http-api"),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument, s.identity)

	r.HandleFunc("/", redirectToProducts).Methods(http.MethodGet)

	r.HandleFunc("/orders", s.listOrders).Methods(http.MethodGet)
	r.Handle("/orders", s.idempotent(http.HandlerFunc(s.createOrder))).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}", s.getOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", s.updateOrder).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/orders/{id}", s.deleteOrder).Methods(http.MethodDelete)

	r.HandleFunc("/products", s.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", s.getProduct).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	return r
}

func redirectToProducts(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/products", http.StatusFound)
}
