package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

const selectOrderSQL = `
	SELECT o.id, o.buyer_id, (u.id IS NOT NULL) AS buyer_found,
	       o.status, o.payment_status, o.fraud_status, o.fraud_score,
	       o.supplier_order_id, o.tracking_code, o.carrier, o.shipped_at,
	       o.shipping_cost, o.shipping_method, o.cancel_reason,
	       o.version, o.created_at, o.updated_at
	FROM orders o
	LEFT JOIN users u ON u.id = o.buyer_id
`

type orderRepository struct {
	q querier
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getOne(ctx, selectOrderSQL+` WHERE o.id = $1`, id)
}

// GetForUpdate блокирует только строку заказа: пользователь из LEFT JOIN не блокируется.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.getOne(ctx, selectOrderSQL+` WHERE o.id = $1 FOR UPDATE OF o`, id)
}

func (r *orderRepository) getOne(ctx context.Context, query, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}
	return order, nil
}

func (r *orderRepository) Find(ctx context.Context, q domain.OrderQuery) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := orderFilter(q)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !q.AfterCreatedAt.IsZero() {
		where = append(where, "(o.created_at, o.id) > ("+arg(q.AfterCreatedAt)+", "+arg(q.AfterID)+")")
	}

	query := selectOrderSQL
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.created_at ASC, o.id ASC"
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}

	// Позиции читаются после закрытия курсора: внутри транзакции соединение одно.
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []domain.OrderItem{}
		}
	}
	return orders, nil
}

// Count считает заказы по тем же фильтрам, что и Find, без курсора и лимита.
func (r *orderRepository) Count(ctx context.Context, q domain.OrderQuery) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := orderFilter(q)
	query := `SELECT COUNT(*) FROM orders o LEFT JOIN users u ON u.id = o.buyer_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// orderFilter переводит фильтры OrderQuery в условия WHERE над orders o LEFT JOIN users u.
// Смысл условий совпадает с domain.OrderQuery.Matches.
func orderFilter(q domain.OrderQuery) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(q.Statuses) > 0 {
		where = append(where, "o.status = ANY("+arg(stringsOf(q.Statuses))+")")
	}
	if len(q.ExcludeStatuses) > 0 {
		where = append(where, "o.status <> ALL("+arg(stringsOf(q.ExcludeStatuses))+")")
	}
	if q.NonCanonical {
		where = append(where, "o.status <> ALL("+arg(stringsOf(domain.CanonicalStatuses))+")")
	}
	if q.WithSupplierOrder {
		where = append(where, "o.supplier_order_id <> ''")
	}
	if len(q.PaymentStatuses) > 0 {
		where = append(where, "o.payment_status = ANY("+arg(stringsOf(q.PaymentStatuses))+")")
	}
	if len(q.ExcludePaymentStatuses) > 0 {
		where = append(where, "o.payment_status <> ALL("+arg(stringsOf(q.ExcludePaymentStatuses))+")")
	}
	if len(q.FraudStatuses) > 0 {
		where = append(where, "o.fraud_status = ANY("+arg(stringsOf(q.FraudStatuses))+")")
	}
	if q.MinFraudScore > 0 {
		where = append(where, "o.fraud_score >= "+arg(q.MinFraudScore))
	}
	if !q.CreatedBefore.IsZero() {
		where = append(where, "o.created_at < "+arg(q.CreatedBefore))
	}
	if q.BuyerMissing {
		where = append(where, "(o.buyer_id = '' OR u.id IS NULL)")
	}
	if q.ShippingIncomplete {
		where = append(where, "(o.shipping_cost <= 0 OR o.shipping_method = '')")
	}
	if q.WithoutItems {
		where = append(where, "NOT EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id)")
	}
	if q.DropshipWithoutSeller {
		where = append(where, `EXISTS (
			SELECT 1 FROM order_items i
			JOIN products p ON p.id = i.product_id
			WHERE i.order_id = o.id AND p.drop_enabled AND i.seller_id = ''
		)`)
	}
	return where, args
}

// Save обновляет изменяемые поля заказа и позиций. Состав позиций не меняется.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	if err := order.Shipment.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	db, ok := r.q.(txBeginner)
	if !ok {
		return r.save(ctx, r.q, order)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := r.save(ctx, tx, order); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

func (r *orderRepository) save(ctx context.Context, q querier, order domain.Order) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    fraud_status = $3,
		    fraud_score = $4,
		    supplier_order_id = $5,
		    tracking_code = $6,
		    carrier = $7,
		    shipped_at = $8,
		    shipping_cost = $9,
		    shipping_method = $10,
		    cancel_reason = $11,
		    version = version + 1,
		    updated_at = $12
		WHERE id = $13
		  AND version = $14
	`,
		string(order.Status),
		string(order.PaymentStatus),
		string(order.FraudStatus),
		order.FraudScore,
		order.SupplierOrderID,
		order.Shipment.TrackingCode,
		order.Shipment.Carrier,
		order.Shipment.ShippedAt,
		order.Shipment.Cost,
		order.Shipment.Method,
		order.CancelReason,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrShipmentInvalid, err)
		}
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := orderExists(ctx, q, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	for _, item := range order.Items {
		if _, err := q.ExecContext(ctx, `
			UPDATE order_items
			SET seller_id = $1,
			    supplier_status = $2,
			    supplier_order_id = $3,
			    tracking_code = $4
			WHERE id = $5
			  AND order_id = $6
		`,
			item.SellerID, item.SupplierStatus, item.SupplierOrderID, item.TrackingCode,
			item.ID, order.ID,
		); err != nil {
			return fmt.Errorf("update order item %s: %w", item.ID, err)
		}
	}

	return nil
}

// loadItems читает позиции пачки заказов одним запросом.
// Позиция помечается как dropship по признаку drop_enabled у товара.
func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT i.order_id, i.id, i.product_id, i.seller_id, COALESCE(p.drop_enabled, FALSE),
		       i.quantity, i.price, i.seller_revenue, i.commission_rate, i.commission_amount,
		       i.supplier_status, i.supplier_order_id, i.tracking_code
		FROM order_items i
		LEFT JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.order_id ASC, i.position ASC, i.id ASC
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(
			&orderID, &item.ID, &item.ProductID, &item.SellerID, &item.Dropship,
			&item.Quantity, &item.Price, &item.SellerRevenue, &item.CommissionRate, &item.CommissionAmount,
			&item.SupplierStatus, &item.SupplierOrderID, &item.TrackingCode,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		status    string
		payment   string
		fraud     string
		shippedAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.BuyerID, &order.BuyerFound,
		&status, &payment, &fraud, &order.FraudScore,
		&order.SupplierOrderID, &order.Shipment.TrackingCode, &order.Shipment.Carrier, &shippedAt,
		&order.Shipment.Cost, &order.Shipment.Method, &order.CancelReason,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(payment)
	order.FraudStatus = domain.FraudStatus(fraud)
	if shippedAt.Valid {
		at := shippedAt.Time.UTC()
		order.Shipment.ShippedAt = &at
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

func orderExists(ctx context.Context, q querier, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func isCheckViolation(err error) bool {
	return pgErrorCode(err) == "23514"
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ domain.OrderRepository = (*orderRepository)(nil)
