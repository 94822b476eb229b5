package journal_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/journal"
	"github.com/vladislavdragonenkov/orderrecon/internal/storage/memory"
)

func TestWrite_TimelineAndOutboxInOneTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		return journal.Write(ctx, tx, journal.Entry{
			OrderID:        "order-1",
			TimelineType:   domain.TimelineStatusChanged,
			EventType:      domain.EventOrderReconciled,
			PreviousStatus: domain.OrderStatusPending,
			Status:         domain.OrderStatusCancelled,
			Reason:         "order has no products",
			Metadata:       map[string]interface{}{"check": "empty_order", "items": 0},
			At:             at,
		})
	})
	require.NoError(t, err)

	events, err := store.Timeline().List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelineStatusChanged, events[0].Type)
	require.Equal(t, "empty_order", events[0].Detail("check"))
	require.Equal(t, "0", events[0].Detail("items"))
	require.True(t, events[0].Occurred.Equal(at))

	pending, err := store.Outbox().PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.AggregateOrder, pending[0].AggregateType)
	require.Equal(t, "order-1", pending[0].AggregateID)

	var payload kafka.OrderEvent
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, kafka.EventTypeOrderReconciled, payload.EventType)
	require.Equal(t, "PENDING", payload.PreviousStatus)
	require.Equal(t, "CANCELLED", payload.Status)
	require.Equal(t, "order has no products", payload.Reason)
}

func TestWrite_RolledBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	boom := errors.New("status update failed")

	err := store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := journal.Write(ctx, tx, journal.Entry{
			OrderID:      "order-1",
			TimelineType: domain.TimelineSellerCredited,
			EventType:    domain.EventSellerCredited,
			At:           time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	events, err := store.Timeline().List(ctx, "order-1")
	require.NoError(t, err)
	require.Empty(t, events)

	stats, err := store.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
