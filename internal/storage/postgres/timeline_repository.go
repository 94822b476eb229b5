package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// timelineRepository: журнал заказа в timeline_events. Details хранится в JSONB.
type timelineRepository struct {
	q querier
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	occurred := event.Occurred.UTC()
	if event.Occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	details := []byte(`{}`)
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encode timeline details for order %s: %w", event.OrderID, err)
		}
		details = raw
	}

	const query = `
		INSERT INTO timeline_events (order_id, type, reason, details, occurred)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.q.ExecContext(ctx, query, event.OrderID, event.Type, event.Reason, details, occurred); err != nil {
		return fmt.Errorf("insert %s event for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List возвращает журнал заказа от старых событий к новым. При равном времени сохраняется порядок записи.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const query = `
		SELECT type, reason, details, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`
	rows, err := r.q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		var details []byte
		if err := rows.Scan(&event.Type, &event.Reason, &details, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		if err := decodeDetails(details, &event); err != nil {
			return nil, err
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timeline for order %s: %w", orderID, err)
	}
	return events, nil
}

func decodeDetails(raw []byte, event *domain.TimelineEvent) error {
	var details map[string]string
	if err := json.Unmarshal(raw, &details); err != nil {
		return fmt.Errorf("decode timeline details for order %s: %w", event.OrderID, err)
	}
	if len(details) > 0 {
		event.Details = details
	}
	return nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
