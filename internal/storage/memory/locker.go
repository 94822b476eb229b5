package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// Locker: in-process реализация domain.Locker для одной реплики.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker создаёт Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

// TryLock захватывает ключ без ожидания.
func (l *Locker) TryLock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

var _ domain.Locker = (*Locker)(nil)
