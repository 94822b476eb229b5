package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepository: простое in-memory хранилище для transactional outbox.
type outboxRepository struct {
	scope scope
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его идентификатор.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	err := r.scope.view(func(d *dataset) error {
		if _, exists := d.outbox[msg.ID]; !exists {
			d.outboxOrder = append(d.outboxOrder, msg.ID)
		}
		d.outbox[msg.ID] = &outboxRecord{
			msg:       msg,
			status:    outboxStatusPending,
			createdAt: now,
			updatedAt: now,
		}
		return nil
	})
	return msg, err
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	err := r.scope.view(func(d *dataset) error {
		for _, id := range d.outboxOrder {
			rec := d.outbox[id]
			if rec.status != outboxStatusPending {
				continue
			}
			result = append(result, rec.msg)
			if len(result) >= limit {
				break
			}
		}
		return nil
	})
	return result, err
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.scope.view(func(d *dataset) error {
		for _, rec := range d.outbox {
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.createdAt
			}
		}
		return nil
	})
	return stats, err
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *outboxRepository) mark(id, status string) error {
	return r.scope.view(func(d *dataset) error {
		record, ok := d.outbox[id]
		if !ok {
			return domain.ErrOutboxPublish
		}
		record.status = status
		record.attemptCnt++
		record.updatedAt = time.Now().UTC()
		return nil
	})
}

// PurgeSent удаляет опубликованные сообщения в порядке постановки.
func (r *outboxRepository) PurgeSent(_ context.Context, before time.Time, limit int) (int, error) {
	deleted := 0
	err := r.scope.view(func(d *dataset) error {
		kept := d.outboxOrder[:0]
		for _, id := range d.outboxOrder {
			rec := d.outbox[id]
			if deleted < limit && rec.status == outboxStatusSent && !rec.updatedAt.After(before) {
				delete(d.outbox, id)
				deleted++
				continue
			}
			kept = append(kept, id)
		}
		d.outboxOrder = kept
		return nil
	})
	return deleted, err
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
