package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/reconcile"
)

// Pinger: хранилище, доступность которого проверяется.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker проверяет соединение с хранилищем.
type StorageChecker struct {
	store Pinger
}

// NewStorageChecker создаёт StorageChecker.
func NewStorageChecker(store Pinger) *StorageChecker {
	return &StorageChecker{store: store}
}

// Check выполняет Ping.
func (c *StorageChecker) Check(ctx context.Context) Check {
	start := time.Now()
	return result("storage", start, c.store.Ping(ctx))
}

// Inspector считает нарушения инвариантов без их исправления.
type Inspector interface {
	Inspect(ctx context.Context) (reconcile.Drift, error)
}

// DriftChecker сообщает о накопленном дрейфе данных заказов.
// Найденные нарушения дают degraded, ошибка инспекции: unhealthy.
type DriftChecker struct {
	inspector Inspector
}

// NewDriftChecker создаёт DriftChecker.
func NewDriftChecker(inspector Inspector) *DriftChecker {
	return &DriftChecker{inspector: inspector}
}

// Check выполняет инспекцию.
func (c *DriftChecker) Check(ctx context.Context) Check {
	start := time.Now()
	drift, err := c.inspector.Inspect(ctx)
	check := result("drift", start, err)
	if err != nil {
		return check
	}

	details := make(map[string]int, len(drift))
	var found []string
	for name, n := range drift {
		if n == 0 {
			continue
		}
		details[string(name)] = n
		found = append(found, string(name))
	}
	if len(found) == 0 {
		return check
	}
	sort.Strings(found)

	check.Status = StatusDegraded
	check.Details = details
	check.Message = fmt.Sprintf("%d violations found: %v", drift.Total(), found)
	return check
}

// OutboxChecker отслеживает backlog неопубликованных событий.
type OutboxChecker struct {
	repo   domain.OutboxRepository
	maxAge time.Duration
	now    func() time.Time
}

// NewOutboxChecker создаёт OutboxChecker; backlog старше maxAge даёт degraded.
func NewOutboxChecker(repo domain.OutboxRepository, maxAge time.Duration) *OutboxChecker {
	return &OutboxChecker{repo: repo, maxAge: maxAge, now: time.Now}
}

// Check читает статистику outbox.
func (c *OutboxChecker) Check(ctx context.Context) Check {
	start := time.Now()
	stats, err := c.repo.Stats(ctx)
	check := result("outbox", start, err)
	if err != nil {
		return check
	}

	check.Details = map[string]int{"pending": stats.PendingCount}
	if age := stats.OldestAge(c.now()); age > c.maxAge {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("oldest pending event is %s old", age.Round(time.Second))
	}
	return check
}
