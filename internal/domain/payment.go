package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment описывает платёжную запись провайдера.
// Сверка использует платежи только для аудита "платёж без заказа".
type Payment struct {
	ID         string
	OrderID    string
	Provider   string
	ExternalID string // Может быть пустым, если провайдер не возвращает идентификатор.
	Status     PaymentStatus
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// SupplierCredentials: ключи доступа к API поставщика.
type SupplierCredentials struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

// Complete сообщает, что заданы все поля, необходимые для подписи запроса.
func (c SupplierCredentials) Complete() bool {
	return c.AppKey != "" && c.AppSecret != "" && c.AccessToken != ""
}
