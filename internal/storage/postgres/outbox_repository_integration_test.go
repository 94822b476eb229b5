package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

func reconciledEvent(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     domain.EventOrderReconciled,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	}
}

func TestOutboxRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := store.Outbox()
	ctx := context.Background()

	generated, err := repo.Enqueue(ctx, reconciledEvent("", "order-1"))
	require.NoError(t, err)
	require.NotEmpty(t, generated.ID, "id must be generated")

	time.Sleep(2 * time.Millisecond)
	credited := reconciledEvent("outbox-credit", "order-2")
	credited.EventType = domain.EventSellerCredited
	_, err = repo.Enqueue(ctx, credited)
	require.NoError(t, err)

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, generated.ID, pending[0].ID, "pending events come out in write order")
	require.JSONEq(t, `{"order_id":"order-2"}`, string(pending[1].Payload))
	require.Equal(t, domain.EventSellerCredited, pending[1].EventType)

	limited, err := repo.PullPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.WithinDuration(t, time.Now(), stats.OldestPendingAt, time.Minute)

	require.NoError(t, repo.MarkSent(ctx, generated.ID))
	require.NoError(t, repo.MarkFailed(ctx, credited.ID))

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresMarkMissing(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := store.Outbox()
	ctx := context.Background()

	require.ErrorIs(t, repo.MarkSent(ctx, "missing-outbox"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed(ctx, "missing-outbox"), domain.ErrOutboxPublish)
}

func TestOutboxRepository_PostgresEnqueueFollowsTransaction(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	boom := errors.New("order update failed")

	err := store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if _, err := tx.Outbox().Enqueue(ctx, reconciledEvent("outbox-rolled-back", "order-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		_, err := tx.Outbox().Enqueue(ctx, reconciledEvent("outbox-committed", "order-1"))
		return err
	})
	require.NoError(t, err)

	pending, err := store.Outbox().PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "outbox-committed", pending[0].ID)
}

func TestOutboxRepository_PostgresPurgeSent(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := store.Outbox()
	ctx := context.Background()

	for _, id := range []string{"purge-sent-1", "purge-sent-2", "purge-failed", "purge-pending"} {
		_, err := repo.Enqueue(ctx, reconciledEvent(id, "order-purge"))
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkSent(ctx, "purge-sent-1"))
	require.NoError(t, repo.MarkSent(ctx, "purge-sent-2"))
	require.NoError(t, repo.MarkFailed(ctx, "purge-failed"))

	deleted, err := repo.PurgeSent(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, deleted, "fresh sent events are kept")

	cutoff := time.Now().Add(time.Hour)
	deleted, err = repo.PurgeSent(ctx, cutoff, 1)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	deleted, err = repo.PurgeSent(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	var left []string
	rows, err := store.DB().QueryContext(ctx, `SELECT id FROM outbox_messages ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		left = append(left, id)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"purge-failed", "purge-pending"}, left)
}
