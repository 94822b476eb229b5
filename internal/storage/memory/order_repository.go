package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// orderRepository: in-memory реализация OrderRepository.
type orderRepository struct {
	scope scope
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := r.scope.view(func(d *dataset) error {
		stored, ok := d.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = d.hydrate(stored)
		return nil
	})
	return order, err
}

// GetForUpdate совпадает с Get: транзакции in-memory хранилища и так сериализованы.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// Find возвращает заказы по запросу в порядке (created_at, id).
func (r *orderRepository) Find(_ context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	var result []domain.Order
	err := r.scope.view(func(d *dataset) error {
		for _, stored := range d.orders {
			order := d.hydrate(stored)
			if !q.After(order) || !q.Matches(order) {
				continue
			}
			result = append(result, order)
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

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// Count считает заказы, подходящие под фильтры запроса.
func (r *orderRepository) Count(_ context.Context, q domain.OrderQuery) (int, error) {
	count := 0
	err := r.scope.view(func(d *dataset) error {
		for _, stored := range d.orders {
			if q.Matches(d.hydrate(stored)) {
				count++
			}
		}
		return nil
	})
	return count, err
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(_ context.Context, order domain.Order) error {
	if err := order.Shipment.Validate(); err != nil {
		return err
	}
	return r.scope.view(func(d *dataset) error {
		current, ok := d.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return domain.ErrOrderVersionConflict
		}
		stored := order.Clone()
		stored.Version++
		d.orders[order.ID] = stored
		return nil
	})
}

// hydrate дополняет заказ вычисляемыми полями: наличием покупателя и признаком dropship у позиций.
func (d *dataset) hydrate(order domain.Order) domain.Order {
	out := order.Clone()
	_, out.BuyerFound = d.users[out.BuyerID]
	for i := range out.Items {
		out.Items[i].Dropship = d.products[out.Items[i].ProductID].dropEnabled
	}
	return out
}

var _ domain.OrderRepository = (*orderRepository)(nil)
