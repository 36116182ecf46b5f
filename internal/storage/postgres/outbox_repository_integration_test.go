package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

// steppingClock возвращает base, base+step, base+2*step...
func steppingClock(base time.Time, step time.Duration) func() time.Time {
	calls := 0
	return func() time.Time {
		at := base.Add(time.Duration(calls) * step)
		calls++
		return at
	}
}

func orderEvent(aggregateID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       []byte(`{"id":"` + aggregateID + `","status":"Pending"}`),
	}
}

func TestOutboxRepository_PostgresBacklogLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	store.now = steppingClock(base, time.Second)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	created, err := repo.Enqueue(ctx, orderEvent("o-1", domain.EventOrderCreated))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	fixed := orderEvent("o-1", domain.EventOrderUpdated)
	fixed.ID = "evt-fixed"
	updated, err := repo.Enqueue(ctx, fixed)
	require.NoError(t, err)
	require.Equal(t, "evt-fixed", updated.ID)

	batch, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, created.ID, batch[0].ID)
	require.Equal(t, "evt-fixed", batch[1].ID)
	require.Equal(t, domain.EventOrderUpdated, batch[1].EventType)
	require.JSONEq(t, `{"id":"o-1","status":"Pending"}`, string(batch[1].Payload))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.Equal(base), "oldest pending: %s", stats.OldestPendingAt)

	require.NoError(t, repo.MarkSent(ctx, created.ID))
	require.NoError(t, repo.MarkFailed(ctx, "evt-fixed"))

	batch, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, batch)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresSettleOnlyPending(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	msg, err := repo.Enqueue(ctx, orderEvent("o-2", domain.EventOrderDeleted))
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, msg.ID))

	require.ErrorIs(t, repo.MarkSent(ctx, msg.ID), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed(ctx, msg.ID), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	var status string
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT status FROM outbox_messages WHERE id = $1`, msg.ID).Scan(&status))
	require.Equal(t, "sent", status)
}

func TestOutboxRepository_PostgresPullRespectsLimitAndOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	store.now = steppingClock(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC), time.Millisecond)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	var ids []string
	for _, id := range []string{"o-a", "o-b", "o-c"} {
		msg, err := repo.Enqueue(ctx, orderEvent(id, domain.EventOrderCreated))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	batch, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, ids[:2], []string{batch[0].ID, batch[1].ID})
}

func TestOutboxRepository_PostgresRejectsInvalidPayload(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	msg := orderEvent("o-3", domain.EventOrderCreated)
	msg.Payload = []byte("not json")
	_, err := repo.Enqueue(context.Background(), msg)
	require.ErrorIs(t, err, domain.ErrMalformedInput)
}
