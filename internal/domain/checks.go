package domain

import "time"

// CheckName идентифицирует проверку сверки.
type CheckName string

const (
	CheckUnknownStatus            CheckName = "unknown_status"
	CheckStuckOrder               CheckName = "stuck_order"
	CheckAbandonedOrder           CheckName = "abandoned_order"
	CheckMissingFraudStatus       CheckName = "missing_fraud_status"
	CheckProcessingWithoutPayment CheckName = "processing_without_payment"
	CheckOrphanedBuyer            CheckName = "orphaned_buyer"
	CheckMissingShipping          CheckName = "missing_shipping"
	CheckDropshipWithoutSeller    CheckName = "dropship_without_seller"
	CheckEmptyOrder               CheckName = "empty_order"
	CheckOrphanPayment            CheckName = "orphan_payment"
)

// AbandonedAfter: срок, после которого неоплаченный одобренный заказ считается брошенным.
const AbandonedAfter = 48 * time.Hour

// Причины отмены, которые выставляет сверка.
const (
	CancelReasonPaymentTimeout   = "payment not confirmed in 48h"
	CancelReasonBuyerNotFound    = "buyer not found"
	CancelReasonDropshipNoSeller = "dropship item has no seller"
	CancelReasonNoProducts       = "no products found"
)

// Check: единое определение нарушения инварианта в виде фильтра OrderQuery.
// Из него строятся и выборка корректирующей сверки, и COUNT для health-check, и проверка
// заблокированной строки перед исправлением.
type Check struct {
	Name   CheckName
	Filter OrderQuery
	// OlderThan превращается в CreatedBefore = now - OlderThan.
	OlderThan time.Duration
}

// Query возвращает выборку проверки на момент now.
func (c Check) Query(now time.Time, limit int) OrderQuery {
	q := c.Filter
	if c.OlderThan > 0 {
		q.CreatedBefore = now.Add(-c.OlderThan)
	}
	q.Limit = limit
	return q
}

// Match проверяет заказ теми же фильтрами, что и Query.
func (c Check) Match(o Order, now time.Time) bool {
	return c.Query(now, 0).Matches(o)
}

// cancellable: статусы, из которых сверка может отменить заказ. DELIVERED и CANCELLED
// терминальные, отмена для них невозможна, поэтому они в выборку не попадают.
var cancellable = []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped}

// OrderChecks возвращает проверки в фиксированном порядке выполнения сверки.
func OrderChecks() []Check {
	return []Check{
		{
			Name:   CheckUnknownStatus,
			Filter: OrderQuery{NonCanonical: true},
		},
		{
			Name: CheckStuckOrder,
			Filter: OrderQuery{
				Statuses:        []OrderStatus{OrderStatusPending},
				PaymentStatuses: []PaymentStatus{PaymentStatusApproved},
				FraudStatuses:   []FraudStatus{FraudStatusApproved},
			},
		},
		{
			Name: CheckAbandonedOrder,
			Filter: OrderQuery{
				Statuses:               cancellable,
				FraudStatuses:          []FraudStatus{FraudStatusApproved},
				ExcludePaymentStatuses: []PaymentStatus{PaymentStatusApproved},
			},
			OlderThan: AbandonedAfter,
		},
		{
			Name: CheckMissingFraudStatus,
			Filter: OrderQuery{
				MinFraudScore: FraudReviewThreshold,
				FraudStatuses: []FraudStatus{FraudStatusNone},
			},
		},
		{
			Name: CheckProcessingWithoutPayment,
			Filter: OrderQuery{
				Statuses:               []OrderStatus{OrderStatusProcessing},
				ExcludePaymentStatuses: []PaymentStatus{PaymentStatusApproved},
			},
		},
		{
			Name:   CheckOrphanedBuyer,
			Filter: OrderQuery{Statuses: cancellable, BuyerMissing: true},
		},
		{
			Name: CheckMissingShipping,
			Filter: OrderQuery{
				Statuses:           []OrderStatus{OrderStatusProcessing, OrderStatusShipped},
				ShippingIncomplete: true,
			},
		},
		{
			Name:   CheckDropshipWithoutSeller,
			Filter: OrderQuery{Statuses: cancellable, DropshipWithoutSeller: true},
		},
		{
			Name:   CheckEmptyOrder,
			Filter: OrderQuery{Statuses: cancellable, WithoutItems: true},
		},
	}
}

// CheckByName возвращает проверку по имени.
func CheckByName(name CheckName) (Check, bool) {
	for _, c := range OrderChecks() {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}
