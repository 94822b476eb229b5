package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
	maxConsumerBackoff = 5 * time.Second
)

// ErrPoisonMessage: сообщение не станет обработанным при повторе (битый JSON, невалидный сигнал).
// Такие сообщения уходят в DLQ без ретраев.
var ErrPoisonMessage = errors.New("poison message")

var signalMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recon_signal_messages_total",
	Help: "Order signal messages consumed from Kafka grouped by outcome.",
}, []string{"outcome"})

// MessageHandler обрабатывает одно сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig: параметры consumer group сигналов.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// DLQTopic: куда уходят сообщения после MaxAttempts неудач. Пустой: TopicDeadLetterQueue.
	DLQTopic    string
	MaxAttempts int
	// RetryDelay: первая пауза между попытками, далее удваивается. Отрицательная отключает паузы.
	RetryDelay time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.DLQTopic == "" {
		c.DLQTopic = TopicDeadLetterQueue
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	switch {
	case c.RetryDelay == 0:
		c.RetryDelay = defaultRetryDelay
	case c.RetryDelay < 0:
		c.RetryDelay = 0
	}
	return c
}

// SignalDeadLetter: запись DLQ, которую пишет consumer. Тот же формат читает cmd/dlq-replay.
type SignalDeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	Attempts          int       `json:"attempts"`
	Poison            bool      `json:"poison,omitempty"`
	FailedAt          time.Time `json:"failed_at"`
}

// DecodeSignalDeadLetter разбирает запись DLQ consumer. ok=false, если запись не от consumer.
func DecodeSignalDeadLetter(data []byte) (SignalDeadLetter, bool) {
	var letter SignalDeadLetter
	if err := json.Unmarshal(data, &letter); err != nil || letter.OriginalValue == "" {
		return SignalDeadLetter{}, false
	}
	return letter, true
}

// Consumer читает сигналы заказов через consumer group. Offset коммитится после успешной
// обработки или после записи в DLQ. Если DLQ недоступна, offset не коммитится и сообщение
// будет прочитано снова после rebalance.
type Consumer struct {
	group   sarama.ConsumerGroup
	cfg     ConsumerConfig
	handler MessageHandler
	dlq     *Producer
	logger  *log.Entry
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewConsumer подключается к брокерам. dlq может быть nil: тогда неудачные сообщения
// остаются незакоммиченными.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq *Producer) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka consumer handler is required")
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler, dlq), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq *Producer) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{
		group:   group,
		cfg:     cfg,
		handler: handler,
		dlq:     dlq,
		logger: log.WithFields(log.Fields{
			"component": "signal-consumer",
			"group":     cfg.GroupID,
		}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start запускает цикл Consume и чтение ошибок группы в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.cfg.Topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("consume session failed")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.cfg.Topics).Info("signal consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	c.logger.Info("signal consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения partition по одному, сохраняя порядок сигналов заказа.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.process(ctx, message) {
				session.MarkMessage(message, "")
			}
		}
	}
}

// process возвращает true, если offset сообщения можно коммитить.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	entry := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})

	attempts, err := c.handle(ctx, message)
	if err == nil {
		signalMessagesTotal.WithLabelValues("processed").Inc()
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	poison := errors.Is(err, ErrPoisonMessage)
	entry = entry.WithError(err).WithFields(log.Fields{"attempts": attempts, "poison": poison})
	if c.dlq == nil {
		signalMessagesTotal.WithLabelValues("failed").Inc()
		entry.Error("signal was not processed, offset is not committed")
		return false
	}
	if dlqErr := c.deadLetter(message, err, attempts, poison); dlqErr != nil {
		signalMessagesTotal.WithLabelValues("failed").Inc()
		entry.WithField("dlq_error", dlqErr.Error()).Error("signal was not dead-lettered, offset is not committed")
		return false
	}
	signalMessagesTotal.WithLabelValues("dead_lettered").Inc()
	entry.Warn("signal moved to DLQ")
	return true
}

// handle вызывает handler, пока не кончатся попытки. Попытки, сделанные до replay из DLQ,
// учитываются по заголовку x-retry-count. Poison-сообщения не повторяются.
func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	attempts := retryCount(message)
	for {
		err := c.handler(ctx, message)
		attempts++
		if err == nil {
			return attempts, nil
		}
		if errors.Is(err, ErrPoisonMessage) || attempts >= c.cfg.MaxAttempts {
			return attempts, err
		}

		signalMessagesTotal.WithLabelValues("retried").Inc()
		delay := c.backoff(attempts)
		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryDelay
	for i := 1; i < attempt && delay > 0 && delay < maxConsumerBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxConsumerBackoff)
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, attempts int, poison bool) error {
	failedAt := c.now()
	letter := SignalDeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		Attempts:          attempts,
		Poison:            poison,
		FailedAt:          failedAt,
	}
	payload, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal signal dead letter: %w", err)
	}

	return c.dlq.Publish(c.cfg.DLQTopic, string(message.Key), payload, map[string]string{
		HeaderRetryCount:    strconv.Itoa(attempts),
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
	})
}

// retryCount читает x-retry-count. Отсутствующий или битый заголовок: 0.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(header.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// ParseSignalEvent разбирает входящий сигнал. Битый JSON: ErrPoisonMessage.
func ParseSignalEvent(message *sarama.ConsumerMessage) (*SignalEvent, error) {
	var event SignalEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("%w: decode signal event: %v", ErrPoisonMessage, err)
	}
	return &event, nil
}

// HandleSignals превращает обработчик сигналов в MessageHandler.
func HandleSignals(apply func(ctx context.Context, event *SignalEvent) error) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseSignalEvent(message)
		if err != nil {
			return err
		}
		return apply(ctx, event)
	}
}
