package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// ReconcileMetrics содержит метрики сверки, синхронизации с поставщиком и начислений.
// Все методы допускают nil-получатель.
type ReconcileMetrics struct {
	// Сверка
	checkMatches *prometheus.CounterVec
	fixesApplied *prometheus.CounterVec
	fixErrors    *prometheus.CounterVec
	drift        *prometheus.GaugeVec
	runDuration  *prometheus.HistogramVec

	// Синхронизация с поставщиком
	pollOutcomes *prometheus.CounterVec

	// Начисления
	sellerCredits  prometheus.Counter
	creditedAmount prometheus.Counter

	orphanPayments prometheus.Gauge
}

// NewReconcileMetrics создаёт метрики в DefaultRegisterer.
func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReconcileMetricsWithRegisterer создаёт метрики в заданном registerer; повторная регистрация переиспользует коллекторы.
func NewReconcileMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconcileMetrics{
		checkMatches: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_check_matches_total",
			Help: "Total number of orders matched by a reconciliation check",
		}, []string{"check"}),
		fixesApplied: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_fixes_applied_total",
			Help: "Total number of corrective mutations applied by a reconciliation check",
		}, []string{"check"}),
		fixErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_fix_errors_total",
			Help: "Total number of failed corrective mutations",
		}, []string{"check"}),
		drift: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "recon_drift_orders",
			Help: "Number of orders currently violating an invariant (read-only inspection)",
		}, []string{"check"}),
		runDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "recon_run_duration_seconds",
			Help:    "Duration of reconciliation sweeps and supplier sync batches",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		pollOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_supplier_poll_outcomes_total",
			Help: "Total number of polled supplier orders by outcome",
		}, []string{"outcome"}),
		sellerCredits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "recon_seller_credits_total",
			Help: "Total number of ledger entries applied to seller balances",
		}),
		creditedAmount: registerCounter(registerer, prometheus.CounterOpts{
			Name: "recon_seller_credited_amount_total",
			Help: "Total amount credited to seller balances",
		}),
		orphanPayments: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "recon_orphan_payments",
			Help: "Number of payments without a matching order seen by the last sweep",
		}),
	}
}

// RecordCheckMatch увеличивает счётчик срабатываний проверки.
func (m *ReconcileMetrics) RecordCheckMatch(check string) {
	if m == nil {
		return
	}
	m.checkMatches.WithLabelValues(check).Inc()
}

// RecordFix фиксирует результат исправления.
func (m *ReconcileMetrics) RecordFix(check string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.fixErrors.WithLabelValues(check).Inc()
		return
	}
	m.fixesApplied.WithLabelValues(check).Inc()
}

// SetDrift выставляет текущее число нарушений по проверке.
func (m *ReconcileMetrics) SetDrift(check string, count int) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(check).Set(float64(count))
}

// RecordRunDuration записывает длительность прогона задачи (sweep, supplier_sync).
func (m *ReconcileMetrics) RecordRunDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordPollOutcome увеличивает счётчик исходов опроса поставщика.
func (m *ReconcileMetrics) RecordPollOutcome(outcome string) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSellerCredit учитывает применённое начисление.
func (m *ReconcileMetrics) RecordSellerCredit(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.sellerCredits.Inc()
	m.creditedAmount.Add(amount.InexactFloat64())
}

// SetOrphanPayments выставляет число платежей без заказа.
func (m *ReconcileMetrics) SetOrphanPayments(count int) {
	if m == nil {
		return
	}
	m.orphanPayments.Set(float64(count))
}
