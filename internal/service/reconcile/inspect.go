package reconcile

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// Drift: число нарушений по каждой проверке на момент инспекции.
type Drift map[domain.CheckName]int

// Total возвращает суммарное число нарушений.
func (d Drift) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// Inspect считает нарушения теми же фильтрами, что и Run, не меняя данных.
func (e *Engine) Inspect(ctx context.Context) (Drift, error) {
	now := e.now()
	drift := make(Drift, len(e.checks)+1)

	for _, check := range e.checks {
		count, err := e.store.Orders().Count(ctx, check.Query(now, 0))
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", check.Name, err)
		}
		drift[check.Name] = count
		e.metrics.SetDrift(string(check.Name), count)
	}

	payments, err := e.store.Payments().ListOrphaned(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", domain.CheckOrphanPayment, err)
	}
	drift[domain.CheckOrphanPayment] = len(payments)
	e.metrics.SetDrift(string(domain.CheckOrphanPayment), len(payments))
	return drift, nil
}
