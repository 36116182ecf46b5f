package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

type queuedEvent struct {
	msg        domain.OutboxMessage
	enqueuedAt time.Time
}

// outboxQueue держит pending-события в порядке постановки.
// Доставленные и отброшенные события из очереди убираются, остаётся только их итог.
type outboxQueue struct {
	mu      sync.Mutex
	pending []queuedEvent
	settled map[string]string
	now     func() time.Time
}

// NewOutboxRepository создаёт outbox в памяти процесса.
func NewOutboxRepository() domain.OutboxRepository {
	return &outboxQueue{
		settled: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (q *outboxQueue) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	q.mu.Lock()
	q.pending = append(q.pending, queuedEvent{msg: msg, enqueuedAt: q.now()})
	q.mu.Unlock()
	return msg, nil
}

func (q *outboxQueue) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	head := q.pending[:min(limit, len(q.pending))]
	out := make([]domain.OutboxMessage, len(head))
	for i, ev := range head {
		out[i] = ev.msg
	}
	return out, nil
}

func (q *outboxQueue) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(q.pending)}
	if len(q.pending) > 0 {
		stats.OldestPendingAt = q.pending[0].enqueuedAt
	}
	return stats, nil
}

func (q *outboxQueue) MarkSent(ctx context.Context, id string) error {
	return q.settle(ctx, id, "sent")
}

func (q *outboxQueue) MarkFailed(ctx context.Context, id string) error {
	return q.settle(ctx, id, "failed")
}

// settle снимает событие с очереди. Повторно закрыть событие нельзя.
func (q *outboxQueue) settle(ctx context.Context, id, outcome string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, ev := range q.pending {
		if ev.msg.ID != id {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.settled[id] = outcome
		return nil
	}
	if prev, ok := q.settled[id]; ok {
		return fmt.Errorf("%w: message %s is already %s", domain.ErrOutboxPublish, id, prev)
	}
	return fmt.Errorf("%w: message %s not found", domain.ErrOutboxPublish, id)
}

var _ domain.OutboxRepository = (*outboxQueue)(nil)
