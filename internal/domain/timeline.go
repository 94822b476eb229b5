package domain

import "time"

// Типы событий timeline, которые пишет сервис сверки.
const (
	TimelineStatusChanged    = "OrderStatusChanged"
	TimelineSupplierReverted = "SupplierOrderReverted"
	TimelineFraudBackfilled  = "FraudStatusBackfilled"
	TimelineSellerCredited   = "SellerCredited"
	TimelineTrackingUpdated  = "TrackingUpdated"
	TimelineSignalApplied    = "SignalApplied"
)

// TimelineEvent: запись журнала заказа. Reason читает человек, Details: машины
// (check, seller_id, supplier_status и т.п.).
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Details  map[string]string
	Occurred time.Time
}

// Detail возвращает значение из Details или пустую строку.
func (e TimelineEvent) Detail(key string) string {
	return e.Details[key]
}
