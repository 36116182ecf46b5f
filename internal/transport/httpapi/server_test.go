package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/metrics"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/listing"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/orders"
	"github.com/vladislavdragonenkov/orderdesk/internal/storage/memory"
)

type orderBody struct {
	ID         string          `json:"id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
	UserID     string          `json:"user_id"`
	Status     string          `json:"status"`
}

type orderListBody struct {
	Status string      `json:"status"`
	Page   int         `json:"page"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Orders []orderBody `json:"orders"`
}

type productListBody struct {
	Status   string           `json:"status"`
	Page     int              `json:"page"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Products []domain.Product `json:"products"`
}

// OrderAPITestSuite гоняет API поверх in-memory хранилищ.
type OrderAPITestSuite struct {
	suite.Suite
	orderRepo domain.OrderRepository
	registry  *prometheus.Registry
	spans     *tracetest.SpanRecorder
	server    *Server
	productID int64
}

func (s *OrderAPITestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "httpapi-test")

	s.orderRepo = memory.NewOrderRepository()
	products := memory.NewProductRepository()
	product, err := products.Create(context.Background(), domain.Product{
		Name:  "P1",
		Price: decimal.RequireFromString("19.99"),
	})
	s.Require().NoError(err)
	s.productID = product.ID
	_, err = products.Create(context.Background(), domain.Product{
		Name:  "P2",
		Price: decimal.RequireFromString("5.00"),
	})
	s.Require().NoError(err)

	s.registry = prometheus.NewRegistry()
	s.spans = tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))

	orderService := orders.NewService(s.orderRepo, products,
		orders.WithLogger(logger),
		orders.WithTracerProvider(provider),
	)
	catalog := listing.NewService(s.orderRepo, products, provider)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(logger))

	s.server = NewServer(orderService, catalog,
		WithLogger(logger),
		WithMetrics(metrics.NewHTTPMetricsWithRegisterer(s.registry)),
		WithTracerProvider(provider),
		WithIdempotency(guard),
	)
}

func (s *OrderAPITestSuite) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func (s *OrderAPITestSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *OrderAPITestSuite) createOrder(quantity int) orderBody {
	rec := s.do(http.MethodPost, "/orders", `{"product_id":1,"quantity":`+itoa(quantity)+`}`, nil)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var order orderBody
	s.decode(rec, &order)
	return order
}

func (s *OrderAPITestSuite) TestOrderScenario() {
	created := s.createOrder(2)
	s.Equal("39.98", created.TotalPrice.StringFixed(2))
	s.Equal("Pending", created.Status)
	s.Equal(orders.DefaultUserID, created.UserID)

	rec := s.do(http.MethodPatch, "/orders/"+created.ID, `{"quantity":5}`, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var updated orderBody
	s.decode(rec, &updated)
	s.Equal(5, updated.Quantity)
	s.Equal("99.95", updated.TotalPrice.StringFixed(2))

	_, err := s.orderRepo.Update(context.Background(), created.ID, func(o *domain.Order, _ domain.ProductReader) error {
		o.Status = domain.OrderStatusProcessing
		return nil
	})
	s.Require().NoError(err)

	rec = s.do(http.MethodPut, "/orders/"+created.ID, `{"quantity":1}`, nil)
	s.Require().Equal(http.StatusUnprocessableEntity, rec.Code)
	var errBody map[string]string
	s.decode(rec, &errBody)
	s.Equal(MessageOrderNotPending, errBody["error"])

	rec = s.do(http.MethodGet, "/orders/"+created.ID, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var current orderBody
	s.decode(rec, &current)
	s.Equal(5, current.Quantity)
	s.Equal("99.95", current.TotalPrice.StringFixed(2))
	s.Equal("Processing", current.Status)
}

func (s *OrderAPITestSuite) TestCreateOrder_LocationAndIdentity() {
	rec := s.do(http.MethodPost, "/orders", `{"order":{"product_id":1,"quantity":3}}`, map[string]string{
		HeaderUserID: "user-42",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var order orderBody
	s.decode(rec, &order)
	s.Equal("/orders/"+order.ID, rec.Header().Get("Location"))
	s.Equal("user-42", order.UserID)
	s.Equal("59.97", order.TotalPrice.StringFixed(2))
}

func (s *OrderAPITestSuite) TestCreateOrder_ValidationErrors() {
	cases := []struct {
		name   string
		body   string
		fields map[string][]string
	}{
		{
			name: "empty body",
			body: "",
			fields: map[string][]string{
				"product_id": {"is required"},
				"quantity":   {"is required"},
			},
		},
		{
			name:   "zero quantity",
			body:   `{"product_id":1,"quantity":0}`,
			fields: map[string][]string{"quantity": {"must be greater than 0"}},
		},
		{
			name:   "unknown product",
			body:   `{"product_id":999,"quantity":1}`,
			fields: map[string][]string{"product_id": {"must exist"}},
		},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			rec := s.do(http.MethodPost, "/orders", tc.body, nil)
			s.Require().Equal(http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			var body validationResponse
			s.decode(rec, &body)
			s.Equal(tc.fields, body.Errors)
		})
	}
}

func (s *OrderAPITestSuite) TestMalformedJSON() {
	rec := s.do(http.MethodPost, "/orders", `{"product_id":`, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.JSONEq(`{"error":"Invalid JSON format"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/orders", `{"product_id":1,"quantity":"two"}`, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	order := s.createOrder(1)
	rec = s.do(http.MethodPatch, "/orders/"+order.ID, `not json`, nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *OrderAPITestSuite) TestUpdateOrder_Errors() {
	rec := s.do(http.MethodPatch, "/orders/missing", `{"quantity":1}`, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	order := s.createOrder(2)
	rec = s.do(http.MethodPatch, "/orders/"+order.ID, `{"quantity":-1}`, nil)
	s.Require().Equal(http.StatusUnprocessableEntity, rec.Code)
	var body validationResponse
	s.decode(rec, &body)
	s.Equal([]string{"must be greater than 0"}, body.Errors["quantity"])

	// Менять можно только количество.
	rec = s.do(http.MethodPatch, "/orders/"+order.ID, `{"quantity":3,"status":"Closed","total_price":"1.00"}`, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var updated orderBody
	s.decode(rec, &updated)
	s.Equal("Pending", updated.Status)
	s.Equal("59.97", updated.TotalPrice.StringFixed(2))
}

func (s *OrderAPITestSuite) TestDeleteOrder() {
	order := s.createOrder(1)

	rec := s.do(http.MethodDelete, "/orders/"+order.ID, "", nil)
	s.Equal(http.StatusNoContent, rec.Code)
	s.Empty(rec.Body.Bytes())

	rec = s.do(http.MethodDelete, "/orders/"+order.ID, "", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/orders/"+order.ID, "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *OrderAPITestSuite) TestListOrders() {
	for i := 0; i < 12; i++ {
		s.createOrder(i + 1)
	}
	first := s.createOrder(1)
	_, err := s.orderRepo.Update(context.Background(), first.ID, func(o *domain.Order, _ domain.ProductReader) error {
		o.Status = domain.OrderStatusClosed
		return nil
	})
	s.Require().NoError(err)

	rec := s.do(http.MethodGet, "/orders?page=2", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var page orderListBody
	s.decode(rec, &page)
	s.Equal("success", page.Status)
	s.Equal(2, page.Page)
	s.Equal(10, page.Limit)
	s.Equal(13, page.Total)
	s.Len(page.Orders, 3)

	rec = s.do(http.MethodGet, "/orders?status=closed", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var closed orderListBody
	s.decode(rec, &closed)
	s.Equal(1, closed.Total)
	s.Require().Len(closed.Orders, 1)
	s.Equal(first.ID, closed.Orders[0].ID)

	rec = s.do(http.MethodGet, "/orders?status=Shipped", "", nil)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodGet, "/orders?sort=user_id", "", nil)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
}

func (s *OrderAPITestSuite) TestListOrders_EmptyPageIsArray() {
	rec := s.do(http.MethodGet, "/orders", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"orders":[]`)
}

func (s *OrderAPITestSuite) TestProducts() {
	rec := s.do(http.MethodGet, "/products?sort=-price", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var page productListBody
	s.decode(rec, &page)
	s.Equal(2, page.Total)
	s.Require().Len(page.Products, 2)
	s.Equal("P1", page.Products[0].Name)

	rec = s.do(http.MethodGet, "/products/1", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var product domain.Product
	s.decode(rec, &product)
	s.Equal("19.99", product.Price.StringFixed(2))

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/products/404", "", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/products/abc", "", nil).Code)
}

func (s *OrderAPITestSuite) TestRootRedirectsToProducts() {
	rec := s.do(http.MethodGet, "/", "", nil)
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/products", rec.Header().Get("Location"))
}

func (s *OrderAPITestSuite) TestUnknownRouteAndMethod() {
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/nope", "", nil).Code)
	s.Equal(http.StatusMethodNotAllowed, s.do(http.MethodDelete, "/products/1", "", nil).Code)
}

func (s *OrderAPITestSuite) TestIdempotentCreate() {
	headers := map[string]string{HeaderIdempotencyKey: "key-1"}
	body := `{"product_id":1,"quantity":2}`

	first := s.do(http.MethodPost, "/orders", body, headers)
	s.Require().Equal(http.StatusCreated, first.Code)
	var created orderBody
	s.decode(first, &created)

	replay := s.do(http.MethodPost, "/orders", body, headers)
	s.Require().Equal(http.StatusCreated, replay.Code)
	s.Equal("true", replay.Header().Get(HeaderIdempotentReplay))
	s.Equal("/orders/"+created.ID, replay.Header().Get("Location"))
	s.JSONEq(first.Body.String(), replay.Body.String())

	mismatch := s.do(http.MethodPost, "/orders", `{"product_id":1,"quantity":3}`, headers)
	s.Equal(http.StatusUnprocessableEntity, mismatch.Code)

	list := s.do(http.MethodGet, "/orders", "", nil)
	var page orderListBody
	s.decode(list, &page)
	s.Equal(1, page.Total)
}

func (s *OrderAPITestSuite) TestIdempotentCreate_ReplaysValidationFailure() {
	headers := map[string]string{HeaderIdempotencyKey: "key-invalid"}

	first := s.do(http.MethodPost, "/orders", `{"product_id":1}`, headers)
	s.Require().Equal(http.StatusUnprocessableEntity, first.Code)

	replay := s.do(http.MethodPost, "/orders", `{"product_id":1}`, headers)
	s.Equal(http.StatusUnprocessableEntity, replay.Code)
	s.Equal("true", replay.Header().Get(HeaderIdempotentReplay))
}

func (s *OrderAPITestSuite) TestIdempotentCreate_PanicReleasesKeyWithServerError() {
	handler := s.server.idempotent(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("storage exploded")
	}))
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"product_id":1,"quantity":1}`))
		req.Header.Set(HeaderIdempotencyKey, "key-panic")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	var first *httptest.ResponseRecorder
	s.NotPanics(func() { first = send() })
	s.Equal(http.StatusInternalServerError, first.Code)
	s.JSONEq(`{"error":"internal error"}`, first.Body.String())

	retry := send()
	s.Equal(http.StatusInternalServerError, retry.Code)
	s.Equal("true", retry.Header().Get(HeaderIdempotentReplay))
}

func (s *OrderAPITestSuite) TestInstrumentation() {
	order := s.createOrder(1)
	s.do(http.MethodGet, "/orders/"+order.ID, "", nil)

	var serverSpans []string
	for _, span := range s.spans.Ended() {
		if strings.HasPrefix(span.Name(), "GET ") || strings.HasPrefix(span.Name(), "POST ") {
			serverSpans = append(serverSpans, span.Name())
		}
	}
	s.ElementsMatch([]string{"POST /orders", "GET /orders/{id}"}, serverSpans)

	families, err := s.registry.Gather()
	s.Require().NoError(err)
	var requests float64
	for _, family := range families {
		if family.GetName() != "orderdesk_http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			requests += metric.GetCounter().GetValue()
		}
	}
	s.Equal(float64(2), requests)
}

func TestOrderAPITestSuite(t *testing.T) {
	suite.Run(t, new(OrderAPITestSuite))
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.FieldError("quantity", "must be greater than 0"), http.StatusUnprocessableEntity},
		{"order not found", domain.ErrOrderNotFound, http.StatusNotFound},
		{"product not found", domain.ErrProductNotFound, http.StatusNotFound},
		{"not pending", domain.ErrOrderNotPending, http.StatusUnprocessableEntity},
		{"already exists", domain.ErrOrderAlreadyExists, http.StatusUnprocessableEntity},
		{"malformed", domain.ErrMalformedInput, http.StatusBadRequest},
		{"invalid json", errInvalidJSON, http.StatusBadRequest},
		{"hash mismatch", domain.ErrIdempotencyHashMismatch, http.StatusUnprocessableEntity},
		{"in progress", domain.ErrIdempotencyKeyAlreadyExists, http.StatusConflict},
		{"unknown", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := statusForError(tc.err)
			require.Equal(t, tc.want, got)
		})
	}
}

func itoa(v int) string {
	b, _ := json.Marshal(v)
	return string(b)
}
