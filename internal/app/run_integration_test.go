package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderrecon/internal/health"
	"github.com/vladislavdragonenkov/orderrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderrecon/internal/storage/memory"
)

// loopbackConfig слушает на случайных локальных портах, чтобы тесты не конфликтовали.
func loopbackConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr, cfg.MetricsAddr, cfg.HTTPAddr = "127.0.0.1:0", "127.0.0.1:0", "127.0.0.1:0"
	cfg.DevMode = true
	return cfg
}

func TestRun(t *testing.T) {
	cases := map[string]struct {
		mutate    func(*Config)
		stopAfter time.Duration
		check     func(error) bool
	}{
		"memory store stops on cancel": {
			mutate:    func(cfg *Config) { cfg.StorageDriver = StorageDriverMemory },
			stopAfter: 150 * time.Millisecond,
			check:     func(err error) bool { return errors.Is(err, context.Canceled) },
		},
		"unknown storage driver": {
			mutate: func(cfg *Config) { cfg.StorageDriver = "invalid-driver" },
			check: func(err error) bool {
				return err != nil && strings.Contains(err.Error(), "unsupported storage driver")
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := loopbackConfig()
			tc.mutate(&cfg)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.stopAfter > 0 {
				time.AfterFunc(tc.stopAfter, cancel)
			}

			if err := Run(ctx, cfg); !tc.check(err) {
				t.Fatalf("unexpected Run result: %v", err)
			}
		})
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	if deps.closeFn != nil {
		defer func() { _ = deps.closeFn() }()
	}

	if deps.store == nil || deps.credentials == nil || deps.locker == nil || deps.saveCredentials == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if deps.storageChecker == nil {
		t.Fatal("expected non-nil storage checker for postgres")
	}
	check := deps.storageChecker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestShutdownOutboxWorker(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	testCases := []struct {
		name   string
		cancel bool
		done   bool
	}{
		{name: "running worker", cancel: true, done: true},
		{name: "cancel only", cancel: true},
		{name: "nothing started"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				cancelled bool
				cancel    context.CancelFunc
				done      chan struct{}
			)
			if tc.cancel {
				cancel = func() { cancelled = true }
			}
			if tc.done {
				done = make(chan struct{})
				close(done)
			}

			shutdownOutboxWorker(cancel, done, logger)
			if cancelled != tc.cancel {
				t.Fatalf("cancel called=%v, want %v", cancelled, tc.cancel)
			}
		})
	}
}

func TestStartOutboxRetention_PurgesOnlyExpiredSentEvents(t *testing.T) {
	logger := log.WithField("test", "outbox-retention")
	store := memory.NewStore()
	ctx := context.Background()

	for _, id := range []string{"sent-old", "pending"} {
		if _, err := store.Outbox().Enqueue(ctx, domain.OutboxMessage{
			ID:            id,
			AggregateType: domain.AggregateOrder,
			AggregateID:   "order-1",
			EventType:     domain.EventSellerCredited,
			Payload:       []byte(`{}`),
		}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if err := store.Outbox().MarkSent(ctx, "sent-old"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	repo := &countingOutbox{OutboxRepository: store.Outbox()}
	cfg := DefaultConfig()
	cfg.OutboxRetention = time.Millisecond
	cfg.OutboxCleanupEvery = 10 * time.Millisecond
	cancel, done := startOutboxRetention(ctx, cfg, repo, logger)
	defer shutdownOutboxWorker(cancel, done, logger)

	deadline := time.Now().Add(2 * time.Second)
	for repo.purged.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := repo.purged.Load(); got != 1 {
		t.Fatalf("expected exactly one purged event, got %d", got)
	}

	pending, err := store.Outbox().PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "pending" {
		t.Fatalf("pending event must survive retention: %+v", pending)
	}
}

func TestStartOutboxWorker_LogPublisherDrainsBacklog(t *testing.T) {
	logger := log.WithField("test", "outbox")
	store := memory.NewStore()
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		_, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
			ID:            "msg-1",
			AggregateType: domain.AggregateOrder,
			AggregateID:   "order-1",
			EventType:     domain.EventOrderReconciled,
			Payload:       []byte(`{}`),
		})
		return err
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.OutboxPollInterval = 10 * time.Millisecond
	cancel, done := startOutboxWorker(ctx, cfg, store.Outbox(), nil, logger)
	defer shutdownOutboxWorker(cancel, done, logger)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := store.Outbox().Stats(ctx)
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.PendingCount == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("outbox backlog was not drained")
}

func TestCloseKafkaProducer_NonNil(t *testing.T) {
	producer, err := kafka.NewProducer([]string{"localhost:9092"})
	if err != nil {
		t.Skipf("kafka is not available for integration test: %v", err)
	}
	closeKafkaProducer(producer, log.WithField("test", "kafka-close"))
}

type countingOutbox struct {
	domain.OutboxRepository
	purged atomic.Int32
}

func (c *countingOutbox) PurgeSent(ctx context.Context, before time.Time, limit int) (int, error) {
	n, err := c.OutboxRepository.PurgeSent(ctx, before, limit)
	c.purged.Add(int32(n))
	return n, err
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("RECON_POSTGRES_TEST_DSN"))
}
