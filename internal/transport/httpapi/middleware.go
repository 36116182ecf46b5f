package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

var errHandlerAborted = errors.New("handler aborted")

// responseRecorder запоминает код ответа и, при необходимости, тело.
type responseRecorder struct {
	http.ResponseWriter
	status int
	size   int
	body   *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.body != nil {
		r.body.Write(p)
	}
	n, err := r.ResponseWriter.Write(p)
	r.size += n
	return n, err
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// instrument открывает серверный span, считает метрики и пишет access-лог.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		route := routeTemplate(r)

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		s.metrics.Started()
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.Status()
		elapsed := time.Since(started)
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		s.metrics.Observe(route, r.Method, status, elapsed)

		entry := s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      status,
			"bytes":       rec.size,
			"duration_ms": elapsed.Milliseconds(),
		})
		if sc := span.SpanContext(); sc.HasTraceID() {
			entry = entry.WithField("trace_id", sc.TraceID().String())
		}
		if status >= http.StatusInternalServerError {
			entry.Warn("request completed with server error")
			return
		}
		entry.Info("request completed")
	})
}

// identity переносит X-User-ID в контекст запроса.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
			r = r.WithContext(domain.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// idempotent сохраняет ответ на запрос с Idempotency-Key и проигрывает его
// на повторах с тем же телом.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if s.guard == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		record, replay, err := s.guard.Begin(r.Context(), key, domain.RequestHash(r.Method, r.URL.Path, body))
		if err != nil {
			if domain.IsIdempotencyConflict(err) {
				s.logger.WithError(err).WithField("idempotency_key", key).Info("idempotency key conflict")
			}
			s.writeError(w, r, err)
			return
		}
		if replay {
			writeReplay(w, record)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
		// Ответ уже ушёл клиенту, отмена запроса не должна потерять результат.
		finishCtx := context.WithoutCancel(r.Context())

		completed := false
		defer func() {
			if !completed {
				s.finishAborted(finishCtx, rec, key, recover())
			}
		}()
		next.ServeHTTP(rec, r)
		completed = true

		s.guard.Finish(finishCtx, key, rec.Status(), rec.body.Bytes())
	})
}

// finishAborted закрывает ключ ответом 500, если обработчик не вернулся
// штатно, иначе повторы получали бы 409 до истечения TTL.
func (s *Server) finishAborted(ctx context.Context, rec *responseRecorder, key string, recovered any) {
	s.logger.WithFields(log.Fields{
		"idempotency_key": key,
		"panic":           recovered,
	}).Error("handler aborted, storing internal error for idempotency key")

	status, body := statusForError(errHandlerAborted)
	payload, _ := json.Marshal(body)
	s.guard.Finish(ctx, key, status, payload)
	if rec.status == 0 {
		writeJSON(rec.ResponseWriter, status, body)
	}
	if recovered == http.ErrAbortHandler {
		panic(recovered)
	}
}

func writeReplay(w http.ResponseWriter, record domain.IdempotencyRecord) {
	if record.HTTPStatus == http.StatusCreated {
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(record.ResponseBody, &created); err == nil && created.ID != "" {
			w.Header().Set("Location", orderLocation(created.ID))
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set(HeaderIdempotentReplay, "true")
	w.WriteHeader(record.HTTPStatus)
	_, _ = w.Write(record.ResponseBody)
}
