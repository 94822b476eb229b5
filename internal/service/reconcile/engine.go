package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/metrics"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/journal"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/ledger"
)

// DefaultPageSize: размер страницы при обходе заказов одной проверки.
const DefaultPageSize = 200

// errShippingRequired: одобренный заказ нельзя перевести в PROCESSING без стоимости и способа доставки:
// следующая проверка вернула бы его в PENDING.
var errShippingRequired = errors.New("shipping cost and method are required before processing")

// Engine выполняет проверки инвариантов и исправляет найденные нарушения.
type Engine struct {
	store    domain.Store
	ledger   *ledger.Service
	checks   []domain.Check
	pageSize int
	logger   *log.Entry
	metrics  *metrics.ReconcileMetrics
	now      func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithPageSize задаёт размер страницы выборки.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine создаёт Engine со стандартным набором проверок.
func NewEngine(store domain.Store, ledgerSvc *ledger.Service, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		ledger:   ledgerSvc,
		checks:   domain.OrderChecks(),
		pageSize: DefaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.WithField("component", "reconcile")
	}
	return e
}

// Run выполняет все проверки в фиксированном порядке и аудит платежей без заказа.
// Ошибка исправления одного заказа попадает в его Result и не прерывает проход.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	now := e.now()
	report := Report{StartedAt: now}

	for _, check := range e.checks {
		if err := ctx.Err(); err != nil {
			report.finish(time.Since(start))
			return report, err
		}
		results, err := e.runCheck(ctx, check, now)
		for _, r := range results {
			report.add(r)
		}
		if err != nil {
			report.finish(time.Since(start))
			return report, fmt.Errorf("check %s: %w", check.Name, err)
		}
	}

	orphans, err := e.auditOrphanPayments(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("orphan payment audit failed")
	}
	for _, r := range orphans {
		report.add(r)
	}

	report.finish(time.Since(start))
	e.metrics.RecordRunDuration("sweep", report.Duration)
	e.logger.WithFields(log.Fields{
		"total":       report.Total,
		"fixed":       report.Mutations,
		"errors":      report.Errors,
		"duration_ms": report.Duration.Milliseconds(),
	}).Info("reconciliation sweep finished")
	return report, nil
}

// runCheck постранично обходит кандидатов проверки и исправляет совпавшие заказы.
// Курсор по (created_at, id) не зависит от статусов, которые меняют исправления.
func (e *Engine) runCheck(ctx context.Context, check domain.Check, now time.Time) ([]Result, error) {
	var results []Result
	err := e.scan(ctx, check, now, func(order domain.Order) {
		e.metrics.RecordCheckMatch(string(check.Name))
		if r, ok := e.fix(ctx, check, order.ID, now); ok {
			results = append(results, r)
		}
	})
	return results, err
}

// scan отдаёт хранилищу фильтры проверки, так что в выборку попадают только нарушители.
func (e *Engine) scan(ctx context.Context, check domain.Check, now time.Time, fn func(domain.Order)) error {
	q := check.Query(now, e.pageSize)
	for {
		orders, err := e.store.Orders().Find(ctx, q)
		if err != nil {
			return err
		}
		for _, order := range orders {
			fn(order)
		}
		if len(orders) < e.pageSize {
			return nil
		}
		last := orders[len(orders)-1]
		q.AfterCreatedAt, q.AfterID = last.CreatedAt, last.ID
	}
}

// fix исправляет один заказ в транзакции. ok=false, если после блокировки нарушение уже устранено.
func (e *Engine) fix(ctx context.Context, check domain.Check, orderID string, now time.Time) (Result, bool) {
	res := Result{OrderID: orderID, Issue: check.Name}
	logger := e.logger.WithFields(log.Fields{"order_id": orderID, "check": check.Name})

	resolved := false
	err := e.store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if !check.Match(order, now) {
			resolved = true
			return nil
		}

		previous := order.Status
		action, timelineType, err := correct(check.Name, &order, now)
		if err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		if err := journal.Write(ctx, tx, journal.Entry{
			OrderID:        order.ID,
			TimelineType:   timelineType,
			EventType:      domain.EventOrderReconciled,
			PreviousStatus: previous,
			Status:         order.Status,
			Reason:         action,
			Metadata:       map[string]interface{}{"check": string(check.Name)},
			At:             now,
		}); err != nil {
			return err
		}
		if check.Name == domain.CheckStuckOrder {
			if _, err := e.ledger.CreditWithin(ctx, tx, order, domain.CreditSourceSweep); err != nil {
				return fmt.Errorf("credit sellers: %w", err)
			}
		}
		res.Action = action
		return nil
	})
	if resolved && err == nil {
		return Result{}, false
	}

	e.metrics.RecordFix(string(check.Name), err)
	if err != nil {
		res.Error = err.Error()
		logger.WithError(err).Warn("reconciliation fix failed")
		return res, true
	}
	res.Fixed = true
	logger.WithField("action", res.Action).Info("reconciliation fix applied")
	return res, true
}

// correct применяет к заказу корректирующую операцию конечного автомата.
func correct(name domain.CheckName, order *domain.Order, now time.Time) (action, timelineType string, err error) {
	switch name {
	case domain.CheckUnknownStatus:
		from := order.Status
		if err := order.ResetUnknownStatus(now); err != nil {
			return "", "", err
		}
		return fmt.Sprintf("unknown status %q reset to %s", from, order.Status), domain.TimelineStatusChanged, nil
	case domain.CheckStuckOrder:
		if !order.Shipment.Complete() {
			return "", "", errShippingRequired
		}
		if err := order.TransitionTo(domain.OrderStatusProcessing, now); err != nil {
			return "", "", err
		}
		return "approved order moved to processing", domain.TimelineStatusChanged, nil
	case domain.CheckAbandonedOrder:
		return cancel(order, domain.CancelReasonPaymentTimeout, now)
	case domain.CheckMissingFraudStatus:
		order.FraudStatus = domain.FraudStatusPending
		order.UpdatedAt = now
		return "fraud status backfilled to pending", domain.TimelineFraudBackfilled, nil
	case domain.CheckProcessingWithoutPayment:
		if err := order.DemoteToPending(now); err != nil {
			return "", "", err
		}
		return "demoted to pending: payment not approved", domain.TimelineStatusChanged, nil
	case domain.CheckOrphanedBuyer:
		return cancel(order, domain.CancelReasonBuyerNotFound, now)
	case domain.CheckMissingShipping:
		if err := order.DemoteToPending(now); err != nil {
			return "", "", err
		}
		return "demoted to pending: shipping details missing", domain.TimelineStatusChanged, nil
	case domain.CheckDropshipWithoutSeller:
		return cancel(order, domain.CancelReasonDropshipNoSeller, now)
	case domain.CheckEmptyOrder:
		return cancel(order, domain.CancelReasonNoProducts, now)
	default:
		return "", "", fmt.Errorf("no corrective action for check %s", name)
	}
}

func cancel(order *domain.Order, reason string, now time.Time) (string, string, error) {
	if err := order.Cancel(reason, now); err != nil {
		return "", "", err
	}
	return "cancelled: " + reason, domain.TimelineStatusChanged, nil
}

// auditOrphanPayments только фиксирует платежи без заказа, ничего не меняя.
func (e *Engine) auditOrphanPayments(ctx context.Context) ([]Result, error) {
	payments, err := e.store.Payments().ListOrphaned(ctx, e.pageSize)
	if err != nil {
		return nil, err
	}
	e.metrics.SetOrphanPayments(len(payments))

	results := make([]Result, 0, len(payments))
	for _, p := range payments {
		e.logger.WithFields(log.Fields{
			"payment_id":  p.ID,
			"order_id":    p.OrderID,
			"provider":    p.Provider,
			"external_id": p.ExternalID,
		}).Warn("payment without matching order")
		results = append(results, Result{
			OrderID: p.OrderID,
			Issue:   domain.CheckOrphanPayment,
			Action:  "payment " + p.ID + " has no matching order",
		})
	}
	return results, nil
}
