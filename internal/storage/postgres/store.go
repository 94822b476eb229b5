package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

const (
	defaultConnTimeout = 5 * time.Second
	opTimeout          = 5 * time.Second

	defaultApplicationName  = "order-reconciler"
	defaultMaxConns         = 25
	defaultConnMaxLifetime  = 30 * time.Minute
	defaultConnMaxIdleTime  = 5 * time.Minute
	defaultStatementTimeout = 30 * time.Second
)

var errNotInitialized = errors.New("postgres store is not initialized")

// querier: общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txBeginner есть только у *sql.DB: внутри InTx своя транзакция не открывается.
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// repositories отдаёт репозитории поверх пула или открытой транзакции.
type repositories struct {
	q querier
}

func (r repositories) Orders() domain.OrderRepository      { return &orderRepository{q: r.q} }
func (r repositories) Sellers() domain.SellerRepository    { return &sellerRepository{q: r.q} }
func (r repositories) Ledger() domain.LedgerRepository     { return &ledgerRepository{q: r.q} }
func (r repositories) Payments() domain.PaymentRepository  { return &paymentRepository{q: r.q} }
func (r repositories) Outbox() domain.OutboxRepository     { return &outboxRepository{q: r.q} }
func (r repositories) Timeline() domain.TimelineRepository { return &timelineRepository{q: r.q} }

// Options: параметры пула и сессии.
type Options struct {
	ApplicationName  string
	MaxConns         int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	StatementTimeout time.Duration
}

// Option настраивает подключение.
type Option func(*Options)

func WithApplicationName(name string) Option {
	return func(o *Options) { o.ApplicationName = name }
}

// WithMaxConns ограничивает число открытых соединений. Простаивающих держим столько же.
func WithMaxConns(n int) Option {
	return func(o *Options) { o.MaxConns = n }
}

// WithStatementTimeout задаёт statement_timeout сессии. 0 отключает ограничение.
func WithStatementTimeout(d time.Duration) Option {
	return func(o *Options) { o.StatementTimeout = d }
}

// Store реализует domain.Store поверх PostgreSQL.
type Store struct {
	repositories

	db *sql.DB
}

// Open подключается к PostgreSQL через pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	opts := Options{
		ApplicationName:  defaultApplicationName,
		MaxConns:         defaultMaxConns,
		ConnMaxLifetime:  defaultConnMaxLifetime,
		ConnMaxIdleTime:  defaultConnMaxIdleTime,
		StatementTimeout: defaultStatementTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.ApplicationName != "" {
		connConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}
	if opts.StatementTimeout > 0 {
		connConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}

	db := stdlib.OpenDB(*connConfig)
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{repositories: repositories{q: db}, db: db}, nil
}

// DB отдаёт пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InTx выполняет fn в транзакции READ COMMITTED. Строки, прочитанные через GetForUpdate,
// заблокированы до коммита. Ошибка fn откатывает транзакцию.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, repositories{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все неприменённые миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Collector экспортирует статистику пула (go_sql_* с db_name="orderrecon").
func (s *Store) Collector() prometheus.Collector {
	return collectors.NewDBStatsCollector(s.db, "orderrecon")
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.Store = (*Store)(nil)
