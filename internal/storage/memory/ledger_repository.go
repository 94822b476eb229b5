package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

type ledgerKey struct {
	orderID  string
	sellerID string
}

// ledgerRepository: in-memory журнал начислений с уникальностью по (order_id, seller_id).
type ledgerRepository struct {
	scope scope
}

// InsertEntry вставляет запись, если её ещё нет.
func (r *ledgerRepository) InsertEntry(_ context.Context, entry domain.LedgerEntry) (bool, error) {
	key := ledgerKey{orderID: entry.OrderID, sellerID: entry.SellerID}
	inserted := false
	err := r.scope.view(func(d *dataset) error {
		if _, exists := d.ledger[key]; exists {
			return nil
		}
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		d.ledger[key] = entry
		inserted = true
		return nil
	})
	return inserted, err
}

// ListByOrder возвращает записи заказа, упорядоченные по продавцу.
func (r *ledgerRepository) ListByOrder(_ context.Context, orderID string) ([]domain.LedgerEntry, error) {
	var result []domain.LedgerEntry
	err := r.scope.view(func(d *dataset) error {
		for key, entry := range d.ledger {
			if key.orderID == orderID {
				result = append(result, entry)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].SellerID < result[j].SellerID })
	return result, err
}

// sellerRepository хранит балансы продавцов.
type sellerRepository struct {
	scope scope
}

func (r *sellerRepository) Get(_ context.Context, id string) (domain.Seller, error) {
	var seller domain.Seller
	err := r.scope.view(func(d *dataset) error {
		s, ok := d.sellers[id]
		if !ok {
			return domain.ErrSellerNotFound
		}
		seller = s
		return nil
	})
	return seller, err
}

// Credit увеличивает balance и total_earned продавца.
func (r *sellerRepository) Credit(_ context.Context, sellerID string, amount decimal.Decimal, at time.Time) error {
	return r.scope.view(func(d *dataset) error {
		s, ok := d.sellers[sellerID]
		if !ok {
			return domain.ErrSellerNotFound
		}
		s.Balance = s.Balance.Add(amount)
		s.TotalEarned = s.TotalEarned.Add(amount)
		s.UpdatedAt = at
		d.sellers[sellerID] = s
		return nil
	})
}

var (
	_ domain.LedgerRepository = (*ledgerRepository)(nil)
	_ domain.SellerRepository = (*sellerRepository)(nil)
)
