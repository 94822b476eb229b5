package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderrecon/internal/health"
	"github.com/vladislavdragonenkov/orderrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderrecon/internal/metrics"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/ledger"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/reconcile"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/scheduler"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/signals"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/supplysync"
	"github.com/vladislavdragonenkov/orderrecon/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderrecon/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orderrecon/internal/supplier"
	"github.com/vladislavdragonenkov/orderrecon/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/orderrecon/internal/version"
)

const shutdownTimeout = 5 * time.Second

type runtimeDependencies struct {
	store           domain.Store
	credentials     domain.CredentialStore
	saveCredentials func(ctx context.Context, creds domain.SupplierCredentials) error
	locker          domain.Locker
	storageChecker  *healthcheck.StorageChecker
	closeFn         func() error
}

// Run поднимает сервис сверки и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if deps.closeFn != nil {
		defer func() {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}()
	}
	if err := bootstrapSupplierCredentials(ctx, cfg, deps, logger); err != nil {
		return err
	}

	reconcileMetrics := metrics.NewReconcileMetrics()
	ledgerSvc := ledger.NewService(deps.store,
		ledger.WithLogger(logger.WithField("layer", "ledger")),
		ledger.WithMetrics(reconcileMetrics),
	)
	supplierClient := supplier.NewClient(cfg.SupplierBaseURL,
		supplier.WithCallTimeout(cfg.SupplierCallTimeout),
		supplier.WithLogger(logger.WithField("layer", "supplier")),
	)
	poller := supplysync.NewPoller(deps.store, deps.credentials, supplierClient, ledgerSvc,
		supplysync.WithBatchSize(cfg.SupplierBatchSize),
		supplysync.WithCallInterval(cfg.SupplierCallInterval),
		supplysync.WithLocker(deps.locker),
		supplysync.WithLogger(logger.WithField("layer", "supplier-sync")),
		supplysync.WithMetrics(reconcileMetrics),
	)
	engine := reconcile.NewEngine(deps.store, ledgerSvc,
		reconcile.WithPageSize(cfg.SweepPageSize),
		reconcile.WithLogger(logger.WithField("layer", "reconcile")),
		reconcile.WithMetrics(reconcileMetrics),
	)

	sched := scheduler.New(engine,
		scheduler.WithInterval(cfg.SweepInterval),
		scheduler.WithLocker(deps.locker),
		scheduler.WithLogger(logger.WithField("layer", "scheduler")),
	)
	if cfg.SchedulerAutostart {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	defer sched.Stop()

	// Kafka опциональна: без брокеров outbox пишется в лог, сигналы не читаются.
	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokerList(), logger)
	if err != nil {
		logger.WithError(err).Warn("kafka is unavailable, continuing without it")
	}
	defer closeKafkaProducer(kafkaProducer, logger)

	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps.store.Outbox(), kafkaProducer, logger)
	defer shutdownOutboxWorker(outboxCancel, outboxDone, logger)

	retentionCancel, retentionDone := startOutboxRetention(ctx, cfg, deps.store.Outbox(), logger)
	defer shutdownOutboxWorker(retentionCancel, retentionDone, logger)

	signalsSvc := signals.NewService(deps.store, signals.WithLogger(logger.WithField("layer", "signals")))
	consumer := startSignalConsumer(ctx, cfg, kafkaProducer, signalsSvc, logger)
	defer stopSignalConsumer(consumer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("drift", healthcheck.NewDriftChecker(engine))
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.store.Outbox(), cfg.OutboxMaxAge))
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	api := httpapi.NewServer(poller, sched, httpapi.Config{
		CronSecret: cfg.CronSecret,
		DevMode:    cfg.DevMode,
		RunTimeout: cfg.CronRunTimeout,
	},
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithBaseContext(ctx),
	)

	grpcServer, healthServer := newGRPCServer(logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 2)
	httpCtx, httpCancel := context.WithCancel(ctx)
	defer httpCancel()
	go func() {
		if err := api.ListenAndServe(httpCtx, cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		httpCancel()
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// initRuntimeDependencies выбирает хранилище по StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		return runtimeDependencies{
			store:       store,
			credentials: store,
			saveCredentials: func(_ context.Context, creds domain.SupplierCredentials) error {
				store.SetSupplierCredentials(creds)
				return nil
			},
			locker:         memory.NewLocker(),
			storageChecker: healthcheck.NewStorageChecker(store),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, errors.New("postgres storage requires RECON_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithMaxConns(cfg.PostgresMaxConns),
			postgres.WithStatementTimeout(cfg.PostgresStatementTimeout),
		)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if err := prometheus.Register(store.Collector()); err != nil {
			logger.WithError(err).Warn("postgres pool metrics are not exported")
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.Info("postgres storage initialized")
		return runtimeDependencies{
			store:           store,
			credentials:     store,
			saveCredentials: store.SaveSupplierCredentials,
			locker:          postgres.NewLocker(store),
			storageChecker:  healthcheck.NewStorageChecker(store),
			closeFn:         store.Close,
		}, nil
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// bootstrapSupplierCredentials сохраняет ключи поставщика из окружения, если они заданы целиком.
func bootstrapSupplierCredentials(ctx context.Context, cfg Config, deps runtimeDependencies, logger *log.Entry) error {
	creds := domain.SupplierCredentials{
		AppKey:      cfg.SupplierAppKey,
		AppSecret:   cfg.SupplierAppSecret,
		AccessToken: cfg.SupplierAccessToken,
	}
	if !creds.Complete() {
		if creds != (domain.SupplierCredentials{}) {
			logger.Warn("supplier credentials are incomplete, keeping stored ones")
		}
		return nil
	}
	if deps.saveCredentials == nil {
		return nil
	}
	if err := deps.saveCredentials(ctx, creds); err != nil {
		return fmt.Errorf("save supplier credentials: %w", err)
	}
	logger.Info("supplier credentials loaded from environment")
	return nil
}

func startOutboxWorker(ctx context.Context, cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) (context.CancelFunc, chan struct{}) {
	var publisher domain.OutboxPublisher = logPublisher{logger: logger.WithField("layer", "outbox-log")}
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaEventsTopic)
		options = append(options, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)))
	}

	worker := outbox.NewWorker(repo, publisher, options...)
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()
	return cancel, done
}

// startOutboxRetention запускает удаление опубликованных сообщений старше OutboxRetention.
func startOutboxRetention(ctx context.Context, cfg Config, repo domain.OutboxRepository, logger *log.Entry) (context.CancelFunc, chan struct{}) {
	worker := outbox.NewRetentionWorker(repo,
		outbox.WithRetentionLogger(logger.WithField("layer", "outbox-retention")),
		outbox.WithRetention(cfg.OutboxRetention),
		outbox.WithCleanupInterval(cfg.OutboxCleanupEvery),
	)
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()
	return cancel, done
}

// shutdownOutboxWorker отменяет воркер и ждёт завершения текущего цикла.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}

// logPublisher заменяет Kafka, когда брокеры не заданы.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"aggregate_id": event.AggregateID,
		"event_type":   event.EventType,
		"outbox_id":    event.ID,
	}).Info("outbox event")
	return nil
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// newOpsMux собирает служебные endpoints: метрики Prometheus и health-проверки.
func newOpsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return mux
}

// startMetricsServer поднимает служебный сервер и останавливает его при отмене ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newOpsMux(healthHandler), ReadHeaderTimeout: shutdownTimeout}
	go func() {
		logger.WithField("addr", addr).Info("ops server started: /metrics /healthz /readyz /livez")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
