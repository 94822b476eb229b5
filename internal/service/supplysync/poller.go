package supplysync

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/metrics"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/ledger"
	"github.com/vladislavdragonenkov/orderrecon/internal/supplier"
)

const (
	// DefaultBatchSize: сколько заказов опрашивается за один проход.
	DefaultBatchSize = 50
	// DefaultCallInterval: минимальный интервал между вызовами API поставщика.
	DefaultCallInterval = 300 * time.Millisecond
)

// SupplierAPI: удалённый API поставщика.
type SupplierAPI interface {
	GetOrder(ctx context.Context, creds domain.SupplierCredentials, supplierOrderID string) (supplier.OrderInfo, error)
	GetTracking(ctx context.Context, creds domain.SupplierCredentials, supplierOrderID string) (supplier.TrackingInfo, error)
}

// Poller синхронизирует уже отправленные поставщику заказы с их удалённым состоянием.
type Poller struct {
	store     domain.Store
	creds     domain.CredentialStore
	api       SupplierAPI
	ledger    *ledger.Service
	locker    domain.Locker
	limiter   *rate.Limiter
	batchSize int
	logger    *log.Entry
	metrics   *metrics.ReconcileMetrics
	now       func() time.Time
}

// Option настраивает Poller.
type Option func(*Poller)

// WithBatchSize ограничивает число заказов за проход.
func WithBatchSize(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithCallInterval задаёт паузу между вызовами API; 0 отключает ограничение (для тестов).
func WithCallInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		p.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLocker включает advisory lock, исключающий параллельные проходы.
func WithLocker(locker domain.Locker) Option {
	return func(p *Poller) {
		p.locker = locker
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// NewPoller создаёт Poller.
func NewPoller(store domain.Store, creds domain.CredentialStore, api SupplierAPI, ledgerSvc *ledger.Service, opts ...Option) *Poller {
	p := &Poller{
		store:     store,
		creds:     creds,
		api:       api,
		ledger:    ledgerSvc,
		limiter:   rate.NewLimiter(rate.Every(DefaultCallInterval), 1),
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "supplier-sync")
	}
	return p
}

// SyncBatch опрашивает поставщика по самым старым открытым заказам.
// Ошибка одного заказа записывается в его Result и не прерывает проход.
func (p *Poller) SyncBatch(ctx context.Context) (BatchReport, error) {
	start := time.Now()
	report := BatchReport{StartedAt: p.now()}

	if p.locker != nil {
		release, err := p.locker.TryLock(ctx, domain.LockKeySupplierSync)
		if err != nil {
			return report, err
		}
		defer release()
	}

	creds, err := p.creds.SupplierCredentials(ctx)
	if err != nil {
		return report, fmt.Errorf("load supplier credentials: %w", err)
	}

	orders, err := p.store.Orders().Find(ctx, domain.OrderQuery{
		WithSupplierOrder: true,
		ExcludeStatuses:   []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusCancelled},
		Limit:             p.batchSize,
	})
	if err != nil {
		return report, fmt.Errorf("select orders to sync: %w", err)
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			report.finish(time.Since(start))
			return report, err
		}
		res := p.syncOrder(ctx, creds, order)
		report.add(res)
		p.metrics.RecordPollOutcome(string(res.Outcome))
	}

	report.finish(time.Since(start))
	p.metrics.RecordRunDuration("supplier_sync", report.Duration)
	p.logger.WithFields(log.Fields{
		"total":       report.Total,
		"updated":     report.Updated,
		"errors":      report.Errors,
		"duration_ms": report.Duration.Milliseconds(),
	}).Info("supplier sync batch finished")
	return report, nil
}

func (p *Poller) syncOrder(ctx context.Context, creds domain.SupplierCredentials, order domain.Order) Result {
	res := Result{
		OrderID:         order.ID,
		SupplierOrderID: order.SupplierOrderID,
		PreviousStatus:  order.Status,
		CurrentStatus:   order.Status,
		TrackingNumber:  order.Shipment.TrackingCode,
	}
	logger := p.logger.WithFields(log.Fields{"order_id": order.ID, "supplier_order_id": order.SupplierOrderID})

	if err := p.limiter.Wait(ctx); err != nil {
		return res.failed(err)
	}
	info, err := p.api.GetOrder(ctx, creds, order.SupplierOrderID)
	if err != nil {
		logger.WithError(err).Warn("supplier order fetch failed")
		return res.failed(err)
	}
	res.RemoteStatus = info.Status

	remote := remoteState{
		category:       supplier.MapRemoteStatus(info.Status, info.EndReason()),
		rawStatus:      info.Status,
		trackingNumber: info.TrackingNumber,
		carrier:        info.Carrier,
	}

	if supplier.NormalizeStatus(info.Status) == supplier.StatusWaitBuyerAcceptGoods &&
		order.Status == domain.OrderStatusShipped &&
		remote.category != domain.CategoryCancelled {
		p.applyTracking(ctx, creds, order, &remote, logger)
	}

	change, err := p.apply(ctx, order.ID, order.SupplierOrderID, remote)
	if err != nil {
		logger.WithError(err).Warn("supplier state not applied")
		return res.failed(err)
	}

	res.Outcome = change.outcome
	res.Updated = change.updated
	res.CurrentStatus = change.status
	if change.updated {
		res.TrackingNumber = change.trackingNumber
		logger.WithFields(log.Fields{
			"from":    res.PreviousStatus,
			"to":      res.CurrentStatus,
			"outcome": res.Outcome,
		}).Info("order synced with supplier")
	}
	return res
}

// applyTracking уточняет категорию по трекингу: свежая отметка о вручении важнее основного статуса.
// Ошибка трекинга не делает заказ ошибочным, используется основной статус.
func (p *Poller) applyTracking(ctx context.Context, creds domain.SupplierCredentials, order domain.Order, remote *remoteState, logger *log.Entry) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	tracking, err := p.api.GetTracking(ctx, creds, order.SupplierOrderID)
	if err != nil {
		logger.WithError(err).Warn("supplier tracking fetch failed, using primary status")
		return
	}
	if remote.trackingNumber == "" {
		remote.trackingNumber = tracking.TrackingNumber
	}
	if remote.carrier == "" {
		remote.carrier = tracking.Carrier
	}
	if tracking.Delivered() {
		remote.category = domain.CategoryDelivered
		remote.deliveredByTracking = true
	}
}

// apply перепроверяет решение по строке, заблокированной в транзакции, и записывает изменения.
func (p *Poller) apply(ctx context.Context, orderID, supplierOrderID string, remote remoteState) (change, error) {
	var result change
	err := p.store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		current, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		result = change{outcome: OutcomeNoChange, status: current.Status, trackingNumber: current.Shipment.TrackingCode}

		// Заказ изменился с момента выборки: другой проход уже обработал его.
		if current.SupplierOrderID != supplierOrderID || current.Status.Terminal() {
			return nil
		}

		now := p.now()
		previous := current.Status
		outcome, err := decide(&current, supplierOrderID, remote, now)
		if err != nil {
			return err
		}
		result.outcome = outcome
		if outcome == OutcomeNoChange || outcome == OutcomeHold {
			return nil
		}

		if err := tx.Orders().Save(ctx, current); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		if err := writeJournal(ctx, tx, current, previous, outcome, remote, now); err != nil {
			return err
		}
		if outcome == OutcomeDelivered {
			if _, err := p.ledger.CreditWithin(ctx, tx, current, domain.CreditSourceDelivery); err != nil {
				return fmt.Errorf("credit delivered order: %w", err)
			}
		}

		result.updated = true
		result.status = current.Status
		result.trackingNumber = current.Shipment.TrackingCode
		return nil
	})
	if err != nil {
		return change{}, err
	}
	return result, nil
}

// IsLockHeld сообщает, что проход пропущен из-за параллельного запуска.
func IsLockHeld(err error) bool {
	return errors.Is(err, domain.ErrLockNotAcquired)
}
