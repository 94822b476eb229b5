package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/signals"
)

// initKafkaProducer подключается к брокерам. Пустой список отключает Kafka: (nil, nil).
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox events go to log")
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, fmt.Errorf("connect kafka %s: %w", strings.Join(brokers, ","), err)
	}
	logger.WithField("brokers", brokers).Info("kafka producer ready")
	return producer, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Debug("kafka producer closed")
}

// startSignalConsumer подписывается на сигналы магазина. Без producer Kafka отключена.
// Сообщения, не обработанные за KafkaMaxRetries попыток, уходят в DLQ.
func startSignalConsumer(ctx context.Context, cfg Config, producer *kafka.Producer, svc *signals.Service, logger *log.Entry) *kafka.Consumer {
	if producer == nil {
		return nil
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.KafkaBrokerList(),
		GroupID:     cfg.KafkaGroupID,
		Topics:      []string{cfg.KafkaSignalsTopic},
		DLQTopic:    cfg.KafkaDLQTopic,
		MaxAttempts: cfg.KafkaMaxRetries,
	}, kafka.HandleSignals(svc.HandleEvent), producer)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, signals are disabled")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		_ = consumer.Stop()
		return nil
	}
	return consumer
}

func stopSignalConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
