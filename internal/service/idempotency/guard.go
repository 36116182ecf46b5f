package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/metrics"
)

// Исходы обработки запроса с ключом.
const (
	OutcomeNew        = "new"
	OutcomeReplayed   = "replayed"
	OutcomeMismatch   = "mismatch"
	OutcomeInProgress = "in_progress"
)

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithGuardTTL задаёт срок хранения ключа.
func WithGuardTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardMetrics подключает счётчики исходов.
func WithGuardMetrics(m *metrics.IdempotencyMetrics) GuardOption {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithGuardClock подменяет источник времени.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Guard связывает Idempotency-Key с результатом первого запроса.
//
// Первый запрос регистрирует ключ в статусе processing и после обработки
// сохраняет код и тело ответа. Повтор с тем же телом получает сохранённый
// ответ, повтор с другим телом получает ErrIdempotencyHashMismatch, а повтор
// во время обработки получает ErrIdempotencyKeyAlreadyExists.
type Guard struct {
	repo    domain.IdempotencyRepository
	ttl     time.Duration
	logger  *log.Entry
	metrics *metrics.IdempotencyMetrics
	now     func() time.Time
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    domain.DefaultIdempotencyTTL,
		logger: log.WithField("component", "idempotency-guard"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Begin регистрирует ключ. replay=true означает, что ответ уже сохранён
// и его надо вернуть без повторной обработки.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (record domain.IdempotencyRecord, replay bool, err error) {
	record, err = g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		g.metrics.RecordRequest(OutcomeNew)
		return record, false, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		g.metrics.RecordRequest(OutcomeMismatch)
		return domain.IdempotencyRecord{}, false, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Completed() {
			g.metrics.RecordRequest(OutcomeReplayed)
			return record, true, nil
		}
		g.metrics.RecordRequest(OutcomeInProgress)
		return domain.IdempotencyRecord{}, false, err
	default:
		return domain.IdempotencyRecord{}, false, fmt.Errorf("begin idempotent request: %w", err)
	}
}

// Finish сохраняет ответ. Ответы 5xx помечаются как failed, но тоже
// проигрываются повторно до истечения TTL.
func (g *Guard) Finish(ctx context.Context, key string, httpStatus int, body []byte) {
	var err error
	if httpStatus >= 500 {
		err = g.repo.MarkFailed(ctx, key, body, httpStatus)
	} else {
		err = g.repo.MarkDone(ctx, key, body, httpStatus)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
