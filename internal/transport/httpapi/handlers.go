package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/listing"
	"github.com/vladislavdragonenkov/orderdesk/internal/service/orders"
)

const maxBodyBytes = 1 << 20

type orderFields struct {
	ProductID *int64 `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

// orderRequest принимает поля как на верхнем уровне, так и внутри "order".
type orderRequest struct {
	orderFields
	Order *orderFields `json:"order"`
}

func (r orderRequest) fields() orderFields {
	if r.Order != nil {
		return *r.Order
	}
	return r.orderFields
}

type orderListResponse struct {
	Status string         `json:"status"`
	Page   int            `json:"page"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Orders []domain.Order `json:"orders"`
}

type productListResponse struct {
	Status   string           `json:"status"`
	Page     int              `json:"page"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Products []domain.Product `json:"products"`
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListOrders(r.Context(), listParams(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orderListResponse{
		Status: "success",
		Page:   page.Page,
		Total:  page.Total,
		Limit:  page.Limit,
		Orders: items,
	})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fields := req.fields()

	order, err := s.orders.Create(r.Context(), orders.CreateInput{
		ProductID: fields.ProductID,
		Quantity:  fields.Quantity,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", orderLocation(order.ID))
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.Update(r.Context(), mux.Vars(r)["id"], orders.UpdateInput{
		Quantity: req.fields().Quantity,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.orders.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListProducts(r.Context(), listParams(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, productListResponse{
		Status:   "success",
		Page:     page.Page,
		Total:    page.Total,
		Limit:    page.Limit,
		Products: items,
	})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	// Нечисловой id не может совпасть ни с одним товаром.
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, domain.ErrProductNotFound)
		return
	}
	product, err := s.catalog.GetProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func listParams(r *http.Request) listing.Params {
	q := r.URL.Query()
	return listing.Params{
		Page:   q.Get("page"),
		Limit:  q.Get("limit"),
		Sort:   q.Get("sort"),
		Status: q.Get("status"),
	}
}

func orderLocation(id string) string {
	return "/orders/" + id
}

// readBody читает тело целиком с ограничением размера.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read request body: %v", domain.ErrMalformedInput, err)
	}
	return body, nil
}

// decodeBody разбирает JSON-тело. Пустое тело считается пустым объектом.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}
