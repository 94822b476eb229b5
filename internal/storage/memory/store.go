package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// product: минимальные сведения о товаре, нужные сверке.
type product struct {
	dropEnabled bool
}

// dataset: всё состояние in-memory хранилища. Транзакция работает с копией и подменяет оригинал при коммите.
type dataset struct {
	orders      map[string]domain.Order
	users       map[string]struct{}
	products    map[string]product
	sellers     map[string]domain.Seller
	ledger      map[ledgerKey]domain.LedgerEntry
	payments    map[string]domain.Payment
	outbox      map[string]*outboxRecord
	outboxOrder []string
	timeline    map[string][]domain.TimelineEvent
	credentials *domain.SupplierCredentials
}

func newDataset() *dataset {
	return &dataset{
		orders:   make(map[string]domain.Order),
		users:    make(map[string]struct{}),
		products: make(map[string]product),
		sellers:  make(map[string]domain.Seller),
		ledger:   make(map[ledgerKey]domain.LedgerEntry),
		payments: make(map[string]domain.Payment),
		outbox:   make(map[string]*outboxRecord),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

func (d *dataset) clone() *dataset {
	cp := newDataset()
	for id, o := range d.orders {
		cp.orders[id] = o.Clone()
	}
	for id := range d.users {
		cp.users[id] = struct{}{}
	}
	for id, p := range d.products {
		cp.products[id] = p
	}
	for id, s := range d.sellers {
		cp.sellers[id] = s
	}
	for k, e := range d.ledger {
		cp.ledger[k] = e
	}
	for id, p := range d.payments {
		cp.payments[id] = p
	}
	for id, rec := range d.outbox {
		r := *rec
		cp.outbox[id] = &r
	}
	cp.outboxOrder = append([]string(nil), d.outboxOrder...)
	for id, events := range d.timeline {
		cp.timeline[id] = append([]domain.TimelineEvent(nil), events...)
	}
	if d.credentials != nil {
		creds := *d.credentials
		cp.credentials = &creds
	}
	return cp
}

// scope даёт репозиториям доступ к данным: напрямую под мьютексом хранилища или внутри транзакции.
type scope interface {
	view(fn func(d *dataset) error) error
}

type storeScope struct {
	s *Store
}

func (sc storeScope) view(fn func(d *dataset) error) error {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	return fn(sc.s.data)
}

// txScope используется только внутри InTx, мьютекс хранилища уже удерживается.
type txScope struct {
	data *dataset
}

func (sc txScope) view(fn func(d *dataset) error) error {
	return fn(sc.data)
}

// repositories связывает все репозитории с одной областью видимости.
type repositories struct {
	orders   *orderRepository
	sellers  *sellerRepository
	ledger   *ledgerRepository
	payments *paymentRepository
	outbox   *outboxRepository
	timeline *timelineRepository
}

func newRepositories(sc scope) repositories {
	return repositories{
		orders:   &orderRepository{scope: sc},
		sellers:  &sellerRepository{scope: sc},
		ledger:   &ledgerRepository{scope: sc},
		payments: &paymentRepository{scope: sc},
		outbox:   &outboxRepository{scope: sc},
		timeline: &timelineRepository{scope: sc},
	}
}

func (r repositories) Orders() domain.OrderRepository      { return r.orders }
func (r repositories) Sellers() domain.SellerRepository    { return r.sellers }
func (r repositories) Ledger() domain.LedgerRepository     { return r.ledger }
func (r repositories) Payments() domain.PaymentRepository  { return r.payments }
func (r repositories) Outbox() domain.OutboxRepository     { return r.outbox }
func (r repositories) Timeline() domain.TimelineRepository { return r.timeline }

// Store: in-memory реализация domain.Store для локальной разработки и тестов.
// Транзакции сериализуются: InTx удерживает мьютекс до коммита, что соответствует SELECT ... FOR UPDATE.
type Store struct {
	repositories

	mu   sync.Mutex
	data *dataset
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	s := &Store{data: newDataset()}
	s.repositories = newRepositories(storeScope{s: s})
	return s
}

// InTx выполняет fn на копии данных; при успехе копия становится текущим состоянием.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, newRepositories(txScope{data: work})); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error {
	return nil
}

// SupplierCredentials возвращает сохранённые ключи поставщика.
func (s *Store) SupplierCredentials(context.Context) (domain.SupplierCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.credentials == nil || !s.data.credentials.Complete() {
		return domain.SupplierCredentials{}, domain.ErrSupplierCredentialsMissing
	}
	return *s.data.credentials, nil
}

// SetSupplierCredentials сохраняет ключи поставщика.
func (s *Store) SetSupplierCredentials(creds domain.SupplierCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.credentials = &creds
}

var (
	_ domain.Store           = (*Store)(nil)
	_ domain.CredentialStore = (*Store)(nil)
)
