package domain

import (
	"fmt"
	"time"
)

// transitions: таблица допустимых переходов. DELIVERED и CANCELLED терминальные.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

// forwardChain: порядок продвижения заказа без отмен.
var forwardChain = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
}

// CanTransition проверяет переход по таблице.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Behind сообщает, что s стоит раньше other в прямой цепочке PENDING → PROCESSING → SHIPPED → DELIVERED.
// Для CANCELLED и неканонических статусов всегда false.
func (s OrderStatus) Behind(other OrderStatus) bool {
	from, to := chainIndex(s), chainIndex(other)
	return from >= 0 && to >= 0 && from < to
}

// TransitionTo переводит заказ в статус to или возвращает *StateTransitionError.
func (o *Order) TransitionTo(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return o.rejected(to, nil)
	}
	if to == OrderStatusProcessing && o.PaymentStatus != PaymentStatusApproved {
		return o.rejected(to, ErrPaymentNotApproved)
	}
	if to == OrderStatusShipped && o.Shipment.ShippedAt == nil {
		shippedAt := at
		o.Shipment.ShippedAt = &shippedAt
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// AdvanceTo продвигает заказ по прямой цепочке до target, проверяя каждый шаг.
// Если заказ уже в target, ничего не меняется.
func (o *Order) AdvanceTo(target OrderStatus, at time.Time) error {
	if o.Status == target {
		return nil
	}
	from, to := chainIndex(o.Status), chainIndex(target)
	if from < 0 || to < 0 || to < from {
		return o.rejected(target, nil)
	}

	snapshot := o.Clone()
	for i := from + 1; i <= to; i++ {
		if err := o.TransitionTo(forwardChain[i], at); err != nil {
			*o = snapshot
			return err
		}
	}
	return nil
}

// Cancel отменяет заказ с указанием причины.
func (o *Order) Cancel(reason string, at time.Time) error {
	if err := o.TransitionTo(OrderStatusCancelled, at); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}

// RevertForResubmission: отдельная операция для отмены на стороне поставщика:
// заказ возвращается в PROCESSING без привязки к поставщику, чтобы его можно было отправить заново.
// Это не обычный переход и в таблицу не входит.
func (o *Order) RevertForResubmission(at time.Time) error {
	if o.Status != OrderStatusShipped && o.Status != OrderStatusProcessing {
		return o.rejected(OrderStatusProcessing, fmt.Errorf("revert is allowed only from %s or %s", OrderStatusShipped, OrderStatusProcessing))
	}
	o.Status = OrderStatusProcessing
	o.detachSupplier()
	o.UpdatedAt = at
	return nil
}

// DetachSupplier снимает привязку к поставщику с заказа в PENDING, статус не меняется.
// Так обрабатывается отмена у поставщика для заказа, который сверка уже вернула в PENDING.
func (o *Order) DetachSupplier(at time.Time) error {
	if o.Status != OrderStatusPending {
		return o.rejected(o.Status, fmt.Errorf("detach is allowed only from %s", OrderStatusPending))
	}
	o.detachSupplier()
	o.UpdatedAt = at
	return nil
}

func (o *Order) detachSupplier() {
	o.SupplierOrderID = ""
	o.Shipment.clearTracking()
	for i := range o.Items {
		o.Items[i].SupplierStatus = ""
		o.Items[i].SupplierOrderID = ""
		o.Items[i].TrackingCode = ""
	}
}

// DemoteToPending: корректирующее действие сверки для PROCESSING/SHIPPED заказов,
// нарушающих инварианты оплаты или доставки.
func (o *Order) DemoteToPending(at time.Time) error {
	if o.Status != OrderStatusProcessing && o.Status != OrderStatusShipped {
		return o.rejected(OrderStatusPending, fmt.Errorf("demote is allowed only from %s or %s", OrderStatusProcessing, OrderStatusShipped))
	}
	o.Status = OrderStatusPending
	o.UpdatedAt = at
	return nil
}

// ResetUnknownStatus возвращает в PENDING заказ с неканоническим статусом.
func (o *Order) ResetUnknownStatus(at time.Time) error {
	if o.Status.Valid() {
		return o.rejected(OrderStatusPending, fmt.Errorf("status %s is canonical", o.Status))
	}
	o.Status = OrderStatusPending
	o.UpdatedAt = at
	return nil
}

func (o *Order) rejected(to OrderStatus, reason error) error {
	return &StateTransitionError{OrderID: o.ID, From: o.Status, To: to, Reason: reason}
}

func chainIndex(s OrderStatus) int {
	for i, st := range forwardChain {
		if st == s {
			return i
		}
	}
	return -1
}
