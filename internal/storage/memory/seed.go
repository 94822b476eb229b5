package memory

import (
	"errors"
	"time"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// ErrOrderExists возвращается CreateOrder, если заказ с таким ID уже есть.
var ErrOrderExists = errors.New("order already exists")

// Методы ниже заменяют внешние контуры (импорт заказов, каталог, учётные записи),
// которые в рабочей конфигурации пишут в PostgreSQL напрямую.

// CreateOrder сохраняет новый заказ.
func (s *Store) CreateOrder(order domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.orders[order.ID]; exists {
		return ErrOrderExists
	}
	s.data.orders[order.ID] = order.Clone()
	return nil
}

// AddUser регистрирует покупателя.
func (s *Store) AddUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[id] = struct{}{}
}

// RemoveUser удаляет покупателя; его заказы становятся "осиротевшими".
func (s *Store) RemoveUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.users, id)
}

// AddProduct регистрирует товар; dropEnabled помечает позиции с ним как dropship.
func (s *Store) AddProduct(id string, dropEnabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[id] = product{dropEnabled: dropEnabled}
}

// AddSeller регистрирует продавца с начальными балансами.
func (s *Store) AddSeller(seller domain.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sellers[seller.ID] = seller
}

// AddPayment сохраняет платёжную запись.
func (s *Store) AddPayment(payment domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.payments[payment.ID] = payment
}
