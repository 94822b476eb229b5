package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// ledgerRepository полагается на уникальный индекс (order_id, seller_id).
type ledgerRepository struct {
	q querier
}

func (r *ledgerRepository) InsertEntry(ctx context.Context, entry domain.LedgerEntry) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO seller_ledger_entries (id, order_id, seller_id, amount, source, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id, seller_id) DO NOTHING
	`, entry.ID, entry.OrderID, entry.SellerID, entry.Amount, string(entry.Source), entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for ledger entry: %w", err)
	}
	return affected == 1, nil
}

func (r *ledgerRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, seller_id, amount, source, created_at
		FROM seller_ledger_entries
		WHERE order_id = $1
		ORDER BY seller_id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			entry  domain.LedgerEntry
			source string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.SellerID, &entry.Amount, &source, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Source = domain.CreditSource(source)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

type sellerRepository struct {
	q querier
}

func (r *sellerRepository) Get(ctx context.Context, id string) (domain.Seller, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var seller domain.Seller
	err := r.q.QueryRowContext(ctx, `
		SELECT id, balance, total_earned, total_withdrawn, updated_at
		FROM sellers
		WHERE id = $1
	`, id).Scan(&seller.ID, &seller.Balance, &seller.TotalEarned, &seller.TotalWithdrawn, &seller.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Seller{}, domain.ErrSellerNotFound
		}
		return domain.Seller{}, fmt.Errorf("select seller: %w", err)
	}
	seller.UpdatedAt = seller.UpdatedAt.UTC()
	return seller, nil
}

// Credit: атомарный инкремент без предварительного чтения баланса.
func (r *sellerRepository) Credit(ctx context.Context, sellerID string, amount decimal.Decimal, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE sellers
		SET balance = balance + $2,
		    total_earned = total_earned + $2,
		    updated_at = $3
		WHERE id = $1
	`, sellerID, amount, at)
	if err != nil {
		return fmt.Errorf("credit seller: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for seller credit: %w", err)
	}
	if affected == 0 {
		return domain.ErrSellerNotFound
	}
	return nil
}

type paymentRepository struct {
	q querier
}

func (r *paymentRepository) ListOrphaned(ctx context.Context, limit int) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает "без ограничения".
	rows, err := r.q.QueryContext(ctx, `
		SELECT p.id, p.order_id, p.provider, p.external_id, p.status, p.amount, p.created_at
		FROM payments p
		WHERE NOT EXISTS (SELECT 1 FROM orders o WHERE o.id = p.order_id)
		ORDER BY p.created_at ASC, p.id ASC
		LIMIT $1
	`, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, fmt.Errorf("list orphaned payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var (
			p      domain.Payment
			status string
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Provider, &p.ExternalID, &status, &p.Amount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = domain.PaymentStatus(status)
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

var (
	_ domain.LedgerRepository  = (*ledgerRepository)(nil)
	_ domain.SellerRepository  = (*sellerRepository)(nil)
	_ domain.PaymentRepository = (*paymentRepository)(nil)
)
