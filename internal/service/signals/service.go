// Package signals применяет к заказам сигналы платёжного и антифрод-контуров.
// Сигналы меняют только атрибуты заказа; переходы статусов выполняет сверка.
package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/journal"
)

// ErrInvalidSignal: сигнал содержит неизвестное значение статуса или скоринга.
var ErrInvalidSignal = errors.New("invalid order signal")

// Signal: нормализованное изменение атрибутов заказа. nil-поле означает "без изменений".
type Signal struct {
	OrderID       string
	PaymentStatus *domain.PaymentStatus
	FraudStatus   *domain.FraudStatus
	FraudScore    *int
}

// FromEvent проверяет входящее событие и приводит его к Signal.
func FromEvent(ev *kafka.SignalEvent) (Signal, error) {
	if ev == nil || strings.TrimSpace(ev.OrderID) == "" {
		return Signal{}, fmt.Errorf("%w: order_id is required", ErrInvalidSignal)
	}
	sig := Signal{OrderID: ev.OrderID}

	if ev.PaymentStatus != nil {
		ps := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(*ev.PaymentStatus)))
		switch ps {
		case domain.PaymentStatusPending, domain.PaymentStatusApproved, domain.PaymentStatusFailed:
			sig.PaymentStatus = &ps
		default:
			return Signal{}, fmt.Errorf("%w: payment_status %q", ErrInvalidSignal, *ev.PaymentStatus)
		}
	}
	if ev.FraudStatus != nil {
		fs := domain.FraudStatus(strings.ToLower(strings.TrimSpace(*ev.FraudStatus)))
		switch fs {
		case domain.FraudStatusPending, domain.FraudStatusApproved, domain.FraudStatusRejected, domain.FraudStatusInvestigating:
			sig.FraudStatus = &fs
		default:
			return Signal{}, fmt.Errorf("%w: fraud_status %q", ErrInvalidSignal, *ev.FraudStatus)
		}
	}
	if ev.FraudScore != nil {
		if *ev.FraudScore < 0 || *ev.FraudScore > 100 {
			return Signal{}, fmt.Errorf("%w: fraud_score %d out of range", ErrInvalidSignal, *ev.FraudScore)
		}
		score := *ev.FraudScore
		sig.FraudScore = &score
	}
	return sig, nil
}

// Service применяет сигналы.
type Service struct {
	store  domain.Store
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт Service.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-signals")
	}
	return s
}

// HandleEvent: обработчик для kafka.HandleSignals. Невалидный сигнал помечается как poison.
func (s *Service) HandleEvent(ctx context.Context, ev *kafka.SignalEvent) error {
	sig, err := FromEvent(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", kafka.ErrPoisonMessage, err)
	}
	_, err = s.Apply(ctx, sig)
	return err
}

// Apply записывает сигнал в заказ. Возвращает false, если заказ терминальный или значения не изменились.
func (s *Service) Apply(ctx context.Context, sig Signal) (bool, error) {
	applied := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		order, err := tx.Orders().GetForUpdate(ctx, sig.OrderID)
		if err != nil {
			return fmt.Errorf("lock order %s: %w", sig.OrderID, err)
		}
		if order.Status.Terminal() {
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"status":   order.Status,
			}).Info("signal ignored for terminal order")
			return nil
		}

		changes := make(map[string]interface{})
		if sig.PaymentStatus != nil && *sig.PaymentStatus != order.PaymentStatus {
			order.PaymentStatus = *sig.PaymentStatus
			changes["payment_status"] = string(order.PaymentStatus)
		}
		if sig.FraudStatus != nil && *sig.FraudStatus != order.FraudStatus {
			order.FraudStatus = *sig.FraudStatus
			changes["fraud_status"] = string(order.FraudStatus)
		}
		if sig.FraudScore != nil && *sig.FraudScore != order.FraudScore {
			order.FraudScore = *sig.FraudScore
			changes["fraud_score"] = order.FraudScore
		}
		if len(changes) == 0 {
			return nil
		}

		now := s.now()
		order.UpdatedAt = now
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		if err := journal.Write(ctx, tx, journal.Entry{
			OrderID:        order.ID,
			TimelineType:   domain.TimelineSignalApplied,
			EventType:      domain.EventOrderSignal,
			PreviousStatus: order.Status,
			Status:         order.Status,
			Reason:         "external signal applied",
			Metadata:       changes,
			At:             now,
		}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.logger.WithField("order_id", sig.OrderID).Debug("order signal applied")
	}
	return applied, nil
}
