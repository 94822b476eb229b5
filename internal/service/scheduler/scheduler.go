package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/reconcile"
)

// DefaultInterval: период запуска сверки.
const DefaultInterval = 10 * time.Minute

var (
	// ErrSweepInProgress: предыдущий проход в этом процессе ещё не завершён.
	ErrSweepInProgress = fmt.Errorf("sweep in progress: %w", domain.ErrLockNotAcquired)
	// ErrAlreadyStarted: периодический запуск уже включён.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

var schedulerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recon_scheduler_runs_total",
	Help: "Total number of scheduled reconciliation sweeps grouped by result.",
}, []string{"result"})

// Sweeper: проход сверки, который запускает планировщик.
type Sweeper interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Status: снимок состояния планировщика.
type Status struct {
	Started       bool       `json:"started"`
	Sweeping      bool       `json:"sweeping"`
	Interval      string     `json:"interval"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastDuration  string     `json:"lastDuration,omitempty"`
	LastTotal     int        `json:"lastTotal"`
	LastMutations int        `json:"lastMutations"`
	LastErrors    int        `json:"lastErrors"`
	LastError     string     `json:"lastError,omitempty"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
}

// Options задаёт параметры планировщика.
type Options struct {
	Logger   *log.Entry
	Interval time.Duration
	Locker   domain.Locker
	Clock    func() time.Time
}

// Option настраивает Scheduler.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithLocker включает advisory lock между репликами.
func WithLocker(locker domain.Locker) Option {
	return func(opts *Options) {
		opts.Locker = locker
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = now
	}
}

// Scheduler запускает сверку сразу после старта и затем на каждом тике.
// Проход, пришедшийся на незавершённый предыдущий, пропускается.
type Scheduler struct {
	sweeper  Sweeper
	locker   domain.Locker
	interval time.Duration
	logger   *log.Entry
	now      func() time.Time

	sweeping atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// New создаёт планировщик. Периодический запуск включается через Start.
func New(sweeper Sweeper, options ...Option) *Scheduler {
	opts := Options{Interval: DefaultInterval}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-scheduler")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Scheduler{
		sweeper:  sweeper,
		locker:   opts.Locker,
		interval: opts.Interval,
		logger:   logger,
		now:      now,
		status:   Status{Interval: opts.Interval.String()},
	}
}

// Start запускает периодическую сверку до Stop или отмены ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.status.Started = true

	go s.loop(loopCtx, done)
	s.logger.WithField("interval", s.interval.String()).Info("reconcile scheduler started")
	return nil
}

// Stop останавливает периодический запуск и ждёт завершения текущего прохода.
// Повторный вызов ничего не делает.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.status.Started = false
	s.status.NextRunAt = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("reconcile scheduler stopped")
}

// Status возвращает состояние планировщика.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	st.Sweeping = s.sweeping.Load()
	return st
}

// TriggerNow выполняет проход немедленно.
// Возвращает ErrSweepInProgress, если проход уже идёт в этом процессе, и domain.ErrLockNotAcquired,
// если его выполняет другая реплика.
func (s *Scheduler) TriggerNow(ctx context.Context) (reconcile.Report, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return reconcile.Report{}, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	if s.locker != nil {
		release, err := s.locker.TryLock(ctx, domain.LockKeySweep)
		if err != nil {
			return reconcile.Report{}, err
		}
		defer release()
	}

	startedAt := s.now()
	report, err := s.sweeper.Run(ctx)
	s.record(startedAt, report, err)
	return report, err
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.TriggerNow(ctx)
	switch {
	case err == nil:
		schedulerRunsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, domain.ErrLockNotAcquired):
		schedulerRunsTotal.WithLabelValues("skipped").Inc()
		s.logger.WithError(err).Info("reconcile sweep skipped")
	case errors.Is(err, context.Canceled):
	default:
		schedulerRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("reconcile sweep failed")
	}

	s.mu.Lock()
	if s.cancel != nil {
		next := s.now().Add(s.interval)
		s.status.NextRunAt = &next
	}
	s.mu.Unlock()
}

func (s *Scheduler) record(startedAt time.Time, report reconcile.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastRunAt = &startedAt
	s.status.LastDuration = report.Duration.String()
	s.status.LastTotal = report.Total
	s.status.LastMutations = report.Mutations
	s.status.LastErrors = report.Errors
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}
