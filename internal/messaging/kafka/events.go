package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	// Исходящие события сверки
	EventTypeOrderReconciled     EventType = domain.EventOrderReconciled
	EventTypeOrderSupplierSynced EventType = domain.EventOrderSupplierSync
	EventTypeSellerCredited      EventType = domain.EventSellerCredited
	EventTypeOrderSignalApplied  EventType = domain.EventOrderSignal
)

// Topics для Kafka
const (
	TopicOrderSignals    = "marketplace.order.signals"
	TopicOrderEvents     = "marketplace.order.events"
	TopicDeadLetterQueue = "marketplace.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent: payload исходящего события об изменении заказа.
type OrderEvent struct {
	EventType      EventType              `json:"event_type"`
	OrderID        string                 `json:"order_id"`
	PreviousStatus string                 `json:"previous_status,omitempty"`
	Status         string                 `json:"status"`
	Reason         string                 `json:"reason,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, previousStatus, status, reason string, at time.Time, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:      eventType,
		OrderID:        orderID,
		PreviousStatus: previousStatus,
		Status:         status,
		Reason:         reason,
		Timestamp:      at,
		Metadata:       metadata,
	}
}

// SignalEvent: входящий нормализованный сигнал платёжного или антифрод-контура.
// Отсутствующее поле означает "без изменений".
type SignalEvent struct {
	OrderID       string  `json:"order_id"`
	PaymentStatus *string `json:"payment_status,omitempty"`
	FraudStatus   *string `json:"fraud_status,omitempty"`
	FraudScore    *int    `json:"fraud_score,omitempty"`
}
