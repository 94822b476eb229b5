package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

type paymentRepository struct {
	scope scope
}

// ListOrphaned возвращает платежи без соответствующего заказа, самые старые первыми.
func (r *paymentRepository) ListOrphaned(_ context.Context, limit int) ([]domain.Payment, error) {
	var result []domain.Payment
	err := r.scope.view(func(d *dataset) error {
		for _, p := range d.payments {
			if _, ok := d.orders[p.OrderID]; !ok {
				result = append(result, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
