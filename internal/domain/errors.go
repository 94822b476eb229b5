package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrSellerNotFound возвращается, если продавец из позиции заказа отсутствует.
	ErrSellerNotFound = errors.New("seller not found")
	// ErrInvalidTransition: переход статуса отсутствует в таблице допустимых переходов.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrPaymentNotApproved: перевод в PROCESSING без подтверждённой оплаты.
	ErrPaymentNotApproved = errors.New("payment is not approved")
	// ErrOrderNotQualifying: заказ не удовлетворяет условиям начисления продавцам.
	ErrOrderNotQualifying = errors.New("order does not qualify for seller credit")
	// ErrSupplierCredentialsMissing: не заданы ключи доступа к API поставщика.
	ErrSupplierCredentialsMissing = errors.New("supplier credentials are not configured")
	// ErrLockNotAcquired: advisory lock удерживается другим процессом или репликой.
	ErrLockNotAcquired = errors.New("lock is held by another runner")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrShipmentInvalid: структура отгрузки не прошла проверку на границе хранилища.
	ErrShipmentInvalid = errors.New("shipment is invalid")
)

// StateTransitionError описывает отклонённую попытку смены статуса заказа.
type StateTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
	Reason  error
}

func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("order %s: transition %s -> %s rejected", e.OrderID, e.From, e.To)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

// Unwrap позволяет сравнивать ошибку через errors.Is с ErrInvalidTransition и причиной.
func (e *StateTransitionError) Unwrap() []error {
	if e.Reason == nil {
		return []error{ErrInvalidTransition}
	}
	return []error{ErrInvalidTransition, e.Reason}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsTransitionError проверяет, что ошибка пришла от конечного автомата заказа.
func IsTransitionError(err error) bool {
	var te *StateTransitionError
	return errors.As(err, &te)
}
