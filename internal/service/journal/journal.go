// Package journal записывает след изменения заказа: событие timeline и сообщение outbox
// в той же транзакции, что и само изменение.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/messaging/kafka"
)

// Entry описывает одно изменение заказа.
type Entry struct {
	OrderID        string
	TimelineType   string
	EventType      string
	PreviousStatus domain.OrderStatus
	Status         domain.OrderStatus
	Reason         string
	Metadata       map[string]interface{}
	At             time.Time
}

// Write добавляет событие в timeline и ставит сообщение в outbox.
func Write(ctx context.Context, tx domain.Repositories, e Entry) error {
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  e.OrderID,
		Type:     e.TimelineType,
		Reason:   e.Reason,
		Details:  details(e.Metadata),
		Occurred: e.At,
	}); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}

	event := kafka.NewOrderEvent(kafka.EventType(e.EventType), e.OrderID, string(e.PreviousStatus), string(e.Status), e.Reason, e.At, e.Metadata)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", e.EventType, err)
	}

	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   e.OrderID,
		EventType:     e.EventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

// details сводит metadata события к строкам для журнала заказа.
func details(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = fmt.Sprint(v)
	}
	return out
}
