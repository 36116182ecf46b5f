package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

func enqueueN(t *testing.T, repo domain.OutboxRepository, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		saved, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			EventType:     domain.EventOrderCreated,
			Payload:       []byte(`{"status":"Pending"}`),
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, saved.ID)
	}
	return ids
}

func TestOutboxQueue_EnqueueAssignsIDAndCopiesPayload(t *testing.T) {
	repo := NewOutboxRepository()
	payload := []byte(`{"id":"o-1"}`)

	saved, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "o-1",
		EventType:     domain.EventOrderDeleted,
		Payload:       payload,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("id was not generated")
	}
	payload[2] = 'X'

	pending, err := repo.PullPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pending) != 1 || string(pending[0].Payload) != `{"id":"o-1"}` {
		t.Fatalf("unexpected pending batch: %+v", pending)
	}
}

func TestOutboxQueue_PullIsFIFOAndDoesNotConsume(t *testing.T) {
	repo := NewOutboxRepository()
	ids := enqueueN(t, repo, 4)

	for round := 0; round < 2; round++ {
		batch, err := repo.PullPending(context.Background(), 3)
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
		if len(batch) != 3 {
			t.Fatalf("round %d: got %d messages", round, len(batch))
		}
		for i, msg := range batch {
			if msg.ID != ids[i] {
				t.Fatalf("round %d pos %d: want %s, got %s", round, i, ids[i], msg.ID)
			}
		}
	}
}

func TestOutboxQueue_SettleRemovesFromBacklog(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	ids := enqueueN(t, repo, 3)

	if err := repo.MarkSent(ctx, ids[0]); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, ids[2]); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	batch, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != ids[1] {
		t.Fatalf("expected only %s to stay pending, got %+v", ids[1], batch)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOutboxQueue_SettleTwiceOrUnknown(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	ids := enqueueN(t, repo, 1)

	if err := repo.MarkSent(ctx, ids[0]); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, ids[0]); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for settled message, got %v", err)
	}
	if err := repo.MarkSent(ctx, "missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for unknown message, got %v", err)
	}
}

func TestOutboxQueue_StatsTracksOldest(t *testing.T) {
	ctx := context.Background()
	q := NewOutboxRepository().(*outboxQueue)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	q.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ids := enqueueN(t, q, 2)

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.OldestPendingAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected oldest: %s", stats.OldestPendingAt)
	}

	if err := q.MarkSent(ctx, ids[0]); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	stats, _ = q.Stats(ctx)
	if stats.PendingCount != 1 || !stats.OldestPendingAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("unexpected stats after settle: %+v", stats)
	}
}

func TestOutboxQueue_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewOutboxRepository()

	if _, err := repo.Enqueue(ctx, domain.OutboxMessage{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("enqueue: expected context.Canceled, got %v", err)
	}
	if _, err := repo.PullPending(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("pull: expected context.Canceled, got %v", err)
	}
}
