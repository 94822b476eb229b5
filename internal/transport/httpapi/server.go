// Package httpapi: HTTP-триггеры фоновых задач сверки и управление планировщиком.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/reconcile"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/scheduler"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/supplysync"
)

// SupplierSyncer запускает один проход опроса поставщика.
type SupplierSyncer interface {
	SyncBatch(ctx context.Context) (supplysync.BatchReport, error)
}

// SchedulerControl: операции планировщика сверки, доступные через API.
type SchedulerControl interface {
	Start(ctx context.Context) error
	Stop()
	Status() scheduler.Status
	TriggerNow(ctx context.Context) (reconcile.Report, error)
}

// Config задаёт авторизацию cron-эндпоинтов.
type Config struct {
	// CronSecret сравнивается с заголовком Authorization: Bearer <secret>.
	CronSecret string
	// DevMode отключает проверку секрета.
	DevMode bool
	// RunTimeout ограничивает проход, запущенный через cron-эндпоинт.
	RunTimeout time.Duration
}

// DefaultRunTimeout используется, если RunTimeout не задан.
const DefaultRunTimeout = 5 * time.Minute

// Server собирает gin-роутер поверх сервисов сверки.
type Server struct {
	syncer    SupplierSyncer
	scheduler SchedulerControl
	cfg       Config
	logger    *log.Entry
	// baseCtx переживает HTTP-запрос: в нём работают проходы и запущенный через API планировщик.
	baseCtx context.Context
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт logger сервера.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBaseContext задаёт контекст процесса для cron-проходов и POST /scheduler/start.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// NewServer создаёт Server.
func NewServer(syncer SupplierSyncer, sched SchedulerControl, cfg Config, opts ...Option) *Server {
	s := &Server{
		syncer:    syncer,
		scheduler: sched,
		cfg:       cfg,
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "http-api")
	}
	if s.cfg.RunTimeout <= 0 {
		s.cfg.RunTimeout = DefaultRunTimeout
	}
	return s
}

// runContext отвязывает проход от запроса: обрыв соединения клиентом не прерывает
// начатые транзакции, проход ограничен RunTimeout и отменой процесса.
func (s *Server) runContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.baseCtx, s.cfg.RunTimeout)
}

// Router возвращает обработчик со всеми маршрутами.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	authorized := r.Group("/", bearerAuth(s.cfg, s.logger))
	authorized.GET("/cron/supplier-sync", s.supplierSync)
	authorized.POST("/cron/supplier-sync", s.supplierSync)
	authorized.GET("/cron/reconcile", s.reconcile)
	authorized.POST("/cron/reconcile", s.reconcile)
	authorized.GET("/scheduler/status", s.schedulerStatus)
	authorized.POST("/scheduler/start", s.schedulerStart)
	authorized.POST("/scheduler/stop", s.schedulerStop)

	return r
}

// ListenAndServe обслуживает addr до отмены ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Warn("http api shutdown with error")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// statusFor сопоставляет ошибку прохода HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSupplierCredentialsMissing):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLockNotAcquired), errors.Is(err, scheduler.ErrAlreadyStarted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
