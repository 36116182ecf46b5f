package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
	"github.com/vladislavdragonenkov/orderdesk/internal/storage/memory"
)

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository())
	ctx := context.Background()

	_, replay, err := guard.Begin(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	require.False(t, replay)

	guard.Finish(ctx, "key-1", http.StatusCreated, []byte(`{"id":"order-1"}`))

	record, replay, err := guard.Begin(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, http.StatusCreated, record.HTTPStatus)
	require.JSONEq(t, `{"id":"order-1"}`, string(record.ResponseBody))
}

func TestGuard_RejectsDifferentPayload(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository())
	ctx := context.Background()

	_, _, err := guard.Begin(ctx, "key-2", "hash-1")
	require.NoError(t, err)

	_, _, err = guard.Begin(ctx, "key-2", "hash-2")
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.True(t, domain.IsIdempotencyConflict(err))
}

func TestGuard_InProgressRequest(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository())
	ctx := context.Background()

	_, _, err := guard.Begin(ctx, "key-3", "hash-1")
	require.NoError(t, err)

	_, replay, err := guard.Begin(ctx, "key-3", "hash-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.False(t, replay)
}

func TestGuard_FailedResponseIsReplayed(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)
	ctx := context.Background()

	_, _, err := guard.Begin(ctx, "key-4", "hash-1")
	require.NoError(t, err)
	guard.Finish(ctx, "key-4", http.StatusInternalServerError, []byte(`{"status":"error"}`))

	stored, err := repo.Get(ctx, "key-4")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, stored.Status)

	record, replay, err := guard.Begin(ctx, "key-4", "hash-1")
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, http.StatusInternalServerError, record.HTTPStatus)
}

func TestGuard_UsesConfiguredTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	guard := NewGuard(memory.NewIdempotencyRepository(),
		WithGuardTTL(time.Hour),
		WithGuardClock(func() time.Time { return now }),
	)

	record, _, err := guard.Begin(context.Background(), "key-5", "hash-1")
	require.NoError(t, err)
	require.True(t, record.TTLAt.Equal(now.Add(time.Hour)))
}
