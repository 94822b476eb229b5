package domain

import "context"

// Ключи advisory lock фоновых задач.
const (
	LockKeySweep        = "reconcile-sweep"
	LockKeySupplierSync = "supplier-sync"
)

// Locker исключает параллельный запуск фоновой задачи на нескольких репликах.
type Locker interface {
	// TryLock не ждёт: занятый ключ даёт ErrLockNotAcquired.
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// CredentialStore отдаёт ключи API поставщика или ErrSupplierCredentialsMissing.
type CredentialStore interface {
	SupplierCredentials(ctx context.Context) (SupplierCredentials, error)
}

type TimelineRepository interface {
	// Append сохраняет событие; List отдаёт события заказа по времени.
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}
