package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// Locker: session-level advisory lock PostgreSQL.
// Блокировка живёт на выделенном соединении и снимается вместе с ним.
type Locker struct {
	store  *Store
	logger *log.Entry
}

// NewLocker создаёт Locker поверх пула store.
func NewLocker(store *Store) *Locker {
	return &Locker{store: store, logger: log.WithField("component", "pg-locker")}
}

// TryLock вызывает pg_try_advisory_lock и не ждёт освобождения ключа.
func (l *Locker) TryLock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.store == nil || l.store.db == nil {
		return nil, errNotInitialized
	}

	conn, err := l.store.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	id := advisoryKey(key)
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("try advisory lock %q: %w", key, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, domain.ErrLockNotAcquired
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, id); err != nil {
				l.logger.WithError(err).WithField("key", key).Warn("advisory unlock failed")
			}
			_ = conn.Close()
		})
	}, nil
}

// advisoryKey переводит строковый ключ в int64 для pg_*_advisory_lock.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

var _ domain.Locker = (*Locker)(nil)
