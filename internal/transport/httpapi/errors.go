package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

const (
	// MessageOrderNotPending возвращается при попытке изменить заказ вне статуса Pending.
	MessageOrderNotPending = "Only orders with status Pending can be updated"
	MessageInvalidJSON     = "Invalid JSON format"
)

var errInvalidJSON = fmt.Errorf("%w: invalid JSON body", domain.ErrMalformedInput)

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Errors map[string][]string `json:"errors"`
}

// statusForError переводит доменную ошибку в HTTP-код и тело ответа.
func statusForError(err error) (int, any) {
	if verr, ok := domain.AsValidation(err); ok {
		return http.StatusUnprocessableEntity, validationResponse{Errors: verr.Fields}
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotPending):
		return http.StatusUnprocessableEntity, errorResponse{Error: MessageOrderNotPending}
	case domain.IsNotFound(err):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrOrderAlreadyExists):
		return http.StatusUnprocessableEntity, errorResponse{Error: domain.ErrOrderAlreadyExists.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, errorResponse{Error: domain.ErrIdempotencyHashMismatch.Error()}
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"}
	case errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, errorResponse{Error: MessageInvalidJSON}
	case errors.Is(err, domain.ErrMalformedInput):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
