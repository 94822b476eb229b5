package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

const (
	defaultRetention        = 72 * time.Hour
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

var (
	outboxCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recon_outbox_cleanup_runs_total",
		Help: "Total number of outbox retention runs grouped by result.",
	}, []string{"result"})
	outboxCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recon_outbox_cleanup_deleted_total",
		Help: "Total number of purged published outbox records.",
	})
)

// RetentionOptions задаёт параметры очистки опубликованных сообщений.
type RetentionOptions struct {
	Logger    *log.Entry
	Retention time.Duration
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

// RetentionOption настраивает RetentionWorker.
type RetentionOption func(*RetentionOptions)

// WithRetentionLogger задаёт logger.
func WithRetentionLogger(logger *log.Entry) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Logger = logger
	}
}

// WithRetention задаёт, сколько хранится опубликованное сообщение.
func WithRetention(d time.Duration) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Retention = d
	}
}

// WithCleanupInterval задаёт интервал между проходами очистки.
func WithCleanupInterval(d time.Duration) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Interval = d
	}
}

// WithCleanupBatchSize задаёт размер одного удаления.
func WithCleanupBatchSize(n int) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.BatchSize = n
	}
}

// WithRetentionClock подменяет источник времени.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Clock = now
	}
}

// RetentionWorker периодически удаляет опубликованные сообщения старше срока хранения.
// Pending и failed сообщения не трогает.
type RetentionWorker struct {
	repo      domain.OutboxRepository
	logger    *log.Entry
	retention time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewRetentionWorker создаёт воркер очистки outbox.
func NewRetentionWorker(repo domain.OutboxRepository, options ...RetentionOption) *RetentionWorker {
	opts := RetentionOptions{
		Retention: defaultRetention,
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-retention")
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &RetentionWorker{
		repo:      repo,
		logger:    logger,
		retention: opts.Retention,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("outbox retention is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *RetentionWorker) cleanup(ctx context.Context) {
	deleted, err := w.Purge(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		outboxCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("outbox retention run failed")
		return
	}

	outboxCleanupRunsTotal.WithLabelValues("ok").Inc()
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("outbox retention completed")
	}
}

// Purge удаляет все сообщения старше срока хранения порциями batchSize.
func (w *RetentionWorker) Purge(ctx context.Context) (int, error) {
	before := w.now().Add(-w.retention)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.PurgeSent(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted > 0 {
			outboxCleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
