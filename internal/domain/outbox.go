package domain

import (
	"context"
	"time"
)

// Типы событий outbox и агрегат, к которому они относятся.
const (
	EventOrderReconciled   = "order.reconciled"
	EventOrderSupplierSync = "order.supplier_synced"
	EventSellerCredited    = "seller.credited"
	EventOrderSignal       = "order.signal_applied"

	AggregateOrder = "order"
)

// OutboxMessage: запись transactional outbox. Payload уже сериализован.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats: размер backlog и время самой старой неотправленной записи.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OldestAge возвращает возраст самой старой pending-записи. Пустой backlog даёт 0.
func (s OutboxStats) OldestAge(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() {
		return 0
	}
	return max(now.Sub(s.OldestPendingAt), 0)
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending отдаёт не больше limit записей в порядке записи; limit <= 0 берёт значение по умолчанию.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// PurgeSent удаляет до limit опубликованных сообщений, обновлённых не позже before.
	PurgeSent(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxPublisher доставляет запись во внешнюю шину. Повторная доставка допустима.
type OutboxPublisher interface {
	Publish(msg OutboxMessage) error
}
