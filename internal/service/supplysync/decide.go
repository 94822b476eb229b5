package supplysync

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/journal"
)

// remoteState: нормализованное состояние заказа у поставщика.
type remoteState struct {
	category            domain.Category
	rawStatus           string
	trackingNumber      string
	carrier             string
	deliveredByTracking bool
}

type change struct {
	outcome        Outcome
	updated        bool
	status         domain.OrderStatus
	trackingNumber string
}

// decide применяет удалённое состояние к заказу в памяти и возвращает исход.
// Для OutcomeNoChange и OutcomeHold заказ не меняется.
func decide(order *domain.Order, supplierOrderID string, remote remoteState, now time.Time) (Outcome, error) {
	switch remote.category {
	case domain.CategoryOnHold:
		return OutcomeHold, nil
	case domain.CategoryCancelled:
		// Локальный заказ не отменяется: он освобождается для повторной отправки поставщику.
		revert := order.RevertForResubmission
		if order.Status == domain.OrderStatusPending {
			revert = order.DetachSupplier
		}
		if err := revert(now); err != nil {
			return "", err
		}
		return OutcomeCancelled, nil
	case domain.CategoryDelivered:
		if err := order.AdvanceTo(domain.OrderStatusDelivered, now); err != nil {
			return "", err
		}
		mirrorShipment(order, supplierOrderID, remote, now)
		return OutcomeDelivered, nil
	}

	target, _ := remote.category.OrderStatus()
	if target == order.Status || target.Behind(order.Status) {
		// Поставщик сообщает ту же или отстающую стадию: меняется только новый трек-номер.
		if remote.trackingNumber == "" || remote.trackingNumber == order.Shipment.TrackingCode {
			return OutcomeNoChange, nil
		}
		mirrorShipment(order, supplierOrderID, remote, now)
		return OutcomeProgress, nil
	}

	if err := order.AdvanceTo(target, now); err != nil {
		return "", err
	}
	mirrorShipment(order, supplierOrderID, remote, now)
	return OutcomeProgress, nil
}

// mirrorShipment переносит трек-номер, перевозчика и статус поставщика в заказ и его позиции.
// ShippedAt выставляет конечный автомат при первом переходе в SHIPPED.
func mirrorShipment(order *domain.Order, supplierOrderID string, remote remoteState, now time.Time) {
	if remote.trackingNumber != "" {
		order.Shipment.TrackingCode = remote.trackingNumber
	}
	if remote.carrier != "" {
		order.Shipment.Carrier = remote.carrier
	}
	for i := range order.Items {
		item := &order.Items[i]
		if item.SupplierOrderID != "" && item.SupplierOrderID != supplierOrderID {
			continue
		}
		item.SupplierStatus = remote.rawStatus
		if remote.trackingNumber != "" {
			item.TrackingCode = remote.trackingNumber
		}
	}
	order.UpdatedAt = now
}

func writeJournal(ctx context.Context, tx domain.Repositories, order domain.Order, previous domain.OrderStatus, outcome Outcome, remote remoteState, now time.Time) error {
	timelineType := domain.TimelineStatusChanged
	switch {
	case outcome == OutcomeCancelled:
		timelineType = domain.TimelineSupplierReverted
	case order.Status == previous:
		timelineType = domain.TimelineTrackingUpdated
	}

	return journal.Write(ctx, tx, journal.Entry{
		OrderID:        order.ID,
		TimelineType:   timelineType,
		EventType:      domain.EventOrderSupplierSync,
		PreviousStatus: previous,
		Status:         order.Status,
		Reason:         "supplier status " + remote.rawStatus,
		Metadata: map[string]interface{}{
			"outcome":               string(outcome),
			"remote_status":         remote.rawStatus,
			"tracking_number":       order.Shipment.TrackingCode,
			"delivered_by_tracking": remote.deliveredByTracking,
		},
		At: now,
	})
}
