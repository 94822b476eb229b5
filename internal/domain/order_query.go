package domain

import (
	"slices"
	"time"
)

// OrderQuery задаёт выборку заказов. Результат упорядочен по (created_at, id) по возрастанию.
// Нулевое значение фильтра его отключает. Хранилища переводят фильтры в свой язык запросов,
// Matches задаёт их смысл для уже загруженного заказа.
type OrderQuery struct {
	Statuses        []OrderStatus
	ExcludeStatuses []OrderStatus
	// NonCanonical выбирает только заказы со статусом вне канонического набора.
	NonCanonical bool
	// WithSupplierOrder выбирает только заказы с непустым supplier_order_id.
	WithSupplierOrder bool

	PaymentStatuses        []PaymentStatus
	ExcludePaymentStatuses []PaymentStatus
	FraudStatuses          []FraudStatus
	// MinFraudScore: fraud_score >= MinFraudScore.
	MinFraudScore int
	// CreatedBefore: created_at строго раньше.
	CreatedBefore time.Time

	// BuyerMissing: buyer_id пустой или пользователя нет.
	BuyerMissing bool
	// ShippingIncomplete: не задана стоимость или способ доставки.
	ShippingIncomplete bool
	// WithoutItems: у заказа нет позиций.
	WithoutItems bool
	// DropshipWithoutSeller: есть dropship-позиция без продавца.
	DropshipWithoutSeller bool

	// AfterCreatedAt/AfterID: курсор постраничного обхода.
	AfterCreatedAt time.Time
	AfterID        string
	Limit          int
}

// Matches проверяет фильтры запроса на заказе с вычисляемыми полями (BuyerFound, Dropship).
// Курсор и Limit не проверяются.
func (q OrderQuery) Matches(o Order) bool {
	switch {
	case q.NonCanonical && o.Status.Valid():
	case len(q.Statuses) > 0 && !slices.Contains(q.Statuses, o.Status):
	case slices.Contains(q.ExcludeStatuses, o.Status):
	case q.WithSupplierOrder && o.SupplierOrderID == "":
	case len(q.PaymentStatuses) > 0 && !slices.Contains(q.PaymentStatuses, o.PaymentStatus):
	case slices.Contains(q.ExcludePaymentStatuses, o.PaymentStatus):
	case len(q.FraudStatuses) > 0 && !slices.Contains(q.FraudStatuses, o.FraudStatus):
	case q.MinFraudScore > 0 && o.FraudScore < q.MinFraudScore:
	case !q.CreatedBefore.IsZero() && !o.CreatedAt.Before(q.CreatedBefore):
	case q.BuyerMissing && o.BuyerID != "" && o.BuyerFound:
	case q.ShippingIncomplete && o.Shipment.Complete():
	case q.WithoutItems && len(o.Items) > 0:
	case q.DropshipWithoutSeller && !o.hasDropshipWithoutSeller():
	default:
		return true
	}
	return false
}

// After сообщает, что заказ стоит после курсора запроса.
func (q OrderQuery) After(o Order) bool {
	if q.AfterCreatedAt.IsZero() && q.AfterID == "" {
		return true
	}
	if !o.CreatedAt.Equal(q.AfterCreatedAt) {
		return o.CreatedAt.After(q.AfterCreatedAt)
	}
	return o.ID > q.AfterID
}

func (o Order) hasDropshipWithoutSeller() bool {
	for _, item := range o.Items {
		if item.Dropship && item.SellerID == "" {
			return true
		}
	}
	return false
}
