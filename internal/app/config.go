package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/supplier"
)

// EnvPrefix: префикс переменных окружения сервиса.
const EnvPrefix = "RECON"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// ErrCronSecretRequired: вне dev-режима cron-эндпоинты должны быть защищены секретом.
var ErrCronSecretRequired = errors.New("RECON_CRON_SECRET is required unless RECON_DEV_MODE=true")

// Config описывает настройки запуска сервиса сверки.
type Config struct {
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":50051" validate:"required"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090" validate:"required"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn warning error"`

	StorageDriver            string        `envconfig:"STORAGE_DRIVER" default:"memory" validate:"oneof=memory postgres"`
	PostgresDSN              string        `envconfig:"POSTGRES_DSN" validate:"required_if=StorageDriver postgres"`
	PostgresAutoMigrate      bool          `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
	PostgresMaxConns         int           `envconfig:"POSTGRES_MAX_CONNS" default:"25" validate:"gt=0"`
	PostgresStatementTimeout time.Duration `envconfig:"POSTGRES_STATEMENT_TIMEOUT" default:"30s" validate:"gte=0"`

	CronSecret     string        `envconfig:"CRON_SECRET"`
	CronRunTimeout time.Duration `envconfig:"CRON_RUN_TIMEOUT" default:"5m" validate:"gt=0"`
	DevMode        bool          `envconfig:"DEV_MODE" default:"false"`

	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m" validate:"gt=0"`
	SweepPageSize      int           `envconfig:"SWEEP_PAGE_SIZE" default:"200" validate:"gt=0"`
	SchedulerAutostart bool          `envconfig:"SCHEDULER_AUTOSTART" default:"true"`

	SupplierBaseURL      string        `envconfig:"SUPPLIER_BASE_URL" default:"https://api-sg.aliexpress.com/sync" validate:"required,url"`
	SupplierAppKey       string        `envconfig:"SUPPLIER_APP_KEY"`
	SupplierAppSecret    string        `envconfig:"SUPPLIER_APP_SECRET"`
	SupplierAccessToken  string        `envconfig:"SUPPLIER_ACCESS_TOKEN"`
	SupplierCallTimeout  time.Duration `envconfig:"SUPPLIER_CALL_TIMEOUT" default:"15s" validate:"gt=0"`
	SupplierCallInterval time.Duration `envconfig:"SUPPLIER_CALL_INTERVAL" default:"300ms" validate:"gte=0"`
	SupplierBatchSize    int           `envconfig:"SUPPLIER_BATCH_SIZE" default:"50" validate:"gt=0"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s" validate:"gt=0"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100" validate:"gt=0"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"3" validate:"gt=0"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"100ms" validate:"gte=0"`
	OutboxMaxAge       time.Duration `envconfig:"OUTBOX_MAX_AGE" default:"5m" validate:"gt=0"`
	OutboxRetention    time.Duration `envconfig:"OUTBOX_RETENTION" default:"72h" validate:"gt=0"`
	OutboxCleanupEvery time.Duration `envconfig:"OUTBOX_CLEANUP_INTERVAL" default:"10m" validate:"gt=0"`

	KafkaBrokers      string `envconfig:"KAFKA_BROKERS"`
	KafkaEventsTopic  string `envconfig:"KAFKA_EVENTS_TOPIC" default:"marketplace.order.events" validate:"required"`
	KafkaSignalsTopic string `envconfig:"KAFKA_SIGNALS_TOPIC" default:"marketplace.order.signals" validate:"required"`
	KafkaDLQTopic     string `envconfig:"KAFKA_DLQ_TOPIC" default:"marketplace.dlq" validate:"required"`
	KafkaGroupID      string `envconfig:"KAFKA_GROUP_ID" default:"order-reconciler" validate:"required"`
	KafkaMaxRetries   int    `envconfig:"KAFKA_MAX_RETRIES" default:"3" validate:"gte=0"`
}

// DefaultConfig возвращает конфигурацию по умолчанию: память вместо PostgreSQL, без Kafka.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                 ":50051",
		MetricsAddr:              ":9090",
		HTTPAddr:                 ":8080",
		LogLevel:                 "info",
		StorageDriver:            StorageDriverMemory,
		PostgresAutoMigrate:      true,
		PostgresMaxConns:         25,
		PostgresStatementTimeout: 30 * time.Second,
		CronRunTimeout:           5 * time.Minute,
		SweepInterval:            10 * time.Minute,
		SweepPageSize:            200,
		SchedulerAutostart:       true,
		SupplierBaseURL:          supplier.DefaultBaseURL,
		SupplierCallTimeout:      15 * time.Second,
		SupplierCallInterval:     300 * time.Millisecond,
		SupplierBatchSize:        50,
		OutboxPollInterval:       time.Second,
		OutboxBatchSize:          100,
		OutboxMaxAttempts:        3,
		OutboxRetryDelay:         100 * time.Millisecond,
		OutboxMaxAge:             5 * time.Minute,
		OutboxRetention:          72 * time.Hour,
		OutboxCleanupEvery:       10 * time.Minute,
		KafkaEventsTopic:         "marketplace.order.events",
		KafkaSignalsTopic:        "marketplace.order.signals",
		KafkaDLQTopic:            "marketplace.dlq",
		KafkaGroupID:             "order-reconciler",
		KafkaMaxRetries:          3,
	}
}

// LoadConfig читает .env (если есть) и переменные окружения с префиксом RECON_.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		// Load не перезаписывает уже заданные переменные окружения.
		if err := godotenv.Load(file); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var configValidator = validator.New()

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.DevMode && strings.TrimSpace(c.CronSecret) == "" {
		return ErrCronSecretRequired
	}
	return nil
}

// KafkaBrokerList разбирает RECON_KAFKA_BROKERS. Пустой список отключает Kafka.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ParseLogLevel возвращает уровень logrus; неизвестное значение даёт info.
func (c Config) ParseLogLevel() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
