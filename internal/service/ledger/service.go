package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/metrics"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/journal"
)

// Причины пропуска позиции при начислении.
const (
	SkipReasonNoSeller      = "item has no seller"
	SkipReasonUnknownSeller = "seller not found"
)

// Service начисляет выручку продавцам ровно один раз на пару (заказ, продавец).
type Service struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.ReconcileMetrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт метрики начислений.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис начислений.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "ledger")
	}
	return s
}

// CreditSellerRevenue начисляет выручку заказа в отдельной транзакции.
// Повторный вызов для того же заказа не меняет балансы.
func (s *Service) CreditSellerRevenue(ctx context.Context, orderID string) (domain.CreditResult, error) {
	var result domain.CreditResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		result, err = s.CreditWithin(ctx, tx, order, domain.CreditSourceManual)
		return err
	})
	if err != nil {
		return domain.CreditResult{OrderID: orderID}, err
	}
	return result, nil
}

// CreditWithin начисляет выручку внутри транзакции вызывающего.
// Запись в журнале и изменение баланса выполняются в tx, поэтому откат tx откатывает и начисление.
func (s *Service) CreditWithin(ctx context.Context, tx domain.Repositories, order domain.Order, source domain.CreditSource) (domain.CreditResult, error) {
	result := domain.CreditResult{OrderID: order.ID}
	if !order.QualifiesForCredit() {
		return result, fmt.Errorf("order %s in status %s: %w", order.ID, order.Status, domain.ErrOrderNotQualifying)
	}

	bySeller, unassigned := order.RevenueBySeller()
	for _, item := range unassigned {
		result.Skipped = append(result.Skipped, domain.SkippedLine{ItemID: item.ID, Reason: SkipReasonNoSeller})
	}

	sellerIDs := make([]string, 0, len(bySeller))
	for id := range bySeller {
		sellerIDs = append(sellerIDs, id)
	}
	sort.Strings(sellerIDs)

	now := s.now()
	for _, sellerID := range sellerIDs {
		amount := bySeller[sellerID]

		if _, err := tx.Sellers().Get(ctx, sellerID); err != nil {
			if errors.Is(err, domain.ErrSellerNotFound) {
				result.Skipped = append(result.Skipped, skippedForSeller(order, sellerID)...)
				s.logger.WithFields(log.Fields{
					"order_id":  order.ID,
					"seller_id": sellerID,
				}).Warn("seller not found, ledger lines skipped")
				continue
			}
			return result, fmt.Errorf("load seller %s: %w", sellerID, err)
		}

		inserted, err := tx.Ledger().InsertEntry(ctx, domain.LedgerEntry{
			OrderID:   order.ID,
			SellerID:  sellerID,
			Amount:    amount,
			Source:    source,
			CreatedAt: now,
		})
		if err != nil {
			return result, fmt.Errorf("insert ledger entry %s/%s: %w", order.ID, sellerID, err)
		}
		if !inserted {
			result.Credits = append(result.Credits, domain.SellerCredit{SellerID: sellerID, Amount: amount})
			continue
		}

		if err := tx.Sellers().Credit(ctx, sellerID, amount, now); err != nil {
			return result, fmt.Errorf("credit seller %s: %w", sellerID, err)
		}
		result.Credits = append(result.Credits, domain.SellerCredit{SellerID: sellerID, Amount: amount, Applied: true})
	}

	applied := result.AppliedTotal()
	if !hasApplied(result) {
		return result, nil
	}

	credits := make([]map[string]interface{}, 0, len(result.Credits))
	for _, c := range result.Credits {
		if c.Applied {
			credits = append(credits, map[string]interface{}{"seller_id": c.SellerID, "amount": c.Amount.String()})
		}
	}
	if err := journal.Write(ctx, tx, journal.Entry{
		OrderID:        order.ID,
		TimelineType:   domain.TimelineSellerCredited,
		EventType:      domain.EventSellerCredited,
		PreviousStatus: order.Status,
		Status:         order.Status,
		Reason:         string(source),
		Metadata:       map[string]interface{}{"credits": credits, "total": applied.String()},
		At:             now,
	}); err != nil {
		return result, err
	}

	for _, c := range result.Credits {
		if c.Applied {
			s.metrics.RecordSellerCredit(c.Amount)
		}
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"source":   source,
		"total":    applied.String(),
		"sellers":  len(credits),
	}).Info("seller revenue credited")
	return result, nil
}

func hasApplied(r domain.CreditResult) bool {
	for _, c := range r.Credits {
		if c.Applied {
			return true
		}
	}
	return false
}

func skippedForSeller(order domain.Order, sellerID string) []domain.SkippedLine {
	var lines []domain.SkippedLine
	for _, item := range order.Items {
		if item.SellerID == sellerID {
			lines = append(lines, domain.SkippedLine{ItemID: item.ID, Reason: SkipReasonUnknownSeller})
		}
	}
	return lines
}
