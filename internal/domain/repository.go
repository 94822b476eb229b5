package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate внутри транзакции блокирует строку заказа до коммита.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// Find возвращает заказы по запросу.
	Find(ctx context.Context, q OrderQuery) ([]Order, error)
	// Count считает заказы по фильтрам запроса. Курсор и Limit не учитываются.
	Count(ctx context.Context, q OrderQuery) (int, error)
	// Save применяет обновления к заказу и его позициям с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// SellerRepository хранит балансы продавцов.
type SellerRepository interface {
	Get(ctx context.Context, id string) (Seller, error)
	// Credit увеличивает balance и total_earned. ErrSellerNotFound, если продавца нет.
	Credit(ctx context.Context, sellerID string, amount decimal.Decimal, at time.Time) error
}

// LedgerRepository хранит записи о начислениях.
type LedgerRepository interface {
	// InsertEntry вставляет запись, если пары (order_id, seller_id) ещё нет.
	// Возвращает false, если запись уже существовала.
	InsertEntry(ctx context.Context, entry LedgerEntry) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]LedgerEntry, error)
}

// PaymentRepository даёт доступ к платёжным записям для аудита.
type PaymentRepository interface {
	// ListOrphaned возвращает платежи, чей order_id не соответствует ни одному заказу.
	ListOrphaned(ctx context.Context, limit int) ([]Payment, error)
}

// Repositories: набор репозиториев, работающих в одной области видимости (БД или транзакция).
type Repositories interface {
	Orders() OrderRepository
	Sellers() SellerRepository
	Ledger() LedgerRepository
	Payments() PaymentRepository
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// Store: хранилище с поддержкой транзакций.
type Store interface {
	Repositories
	// InTx выполняет fn в одной транзакции. Ошибка fn откатывает все изменения.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
	Ping(ctx context.Context) error
}
