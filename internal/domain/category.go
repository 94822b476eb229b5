package domain

// Category: каноническая категория, в которую переводится статус внешнего поставщика.
// В отличие от OrderStatus допускает ON_HOLD: временное состояние, которое не сохраняется в заказ.
type Category string

const (
	CategoryPending    Category = "PENDING"
	CategoryProcessing Category = "PROCESSING"
	CategoryShipped    Category = "SHIPPED"
	CategoryDelivered  Category = "DELIVERED"
	CategoryCancelled  Category = "CANCELLED"
	CategoryOnHold     Category = "ON_HOLD"
)

// OrderStatus возвращает соответствующий статус заказа; для ON_HOLD ok=false.
func (c Category) OrderStatus() (OrderStatus, bool) {
	switch c {
	case CategoryPending:
		return OrderStatusPending, true
	case CategoryProcessing:
		return OrderStatusProcessing, true
	case CategoryShipped:
		return OrderStatusShipped, true
	case CategoryDelivered:
		return OrderStatusDelivered, true
	case CategoryCancelled:
		return OrderStatusCancelled, true
	default:
		return "", false
	}
}
