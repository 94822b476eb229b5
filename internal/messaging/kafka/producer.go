package kafka

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var producedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recon_kafka_produced_total",
	Help: "Records written to Kafka grouped by topic and result.",
}, []string{"topic", "result"})

// Record: одна запись для отправки. Заголовки пишутся в порядке ключей.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func (r Record) message(at time.Time) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     r.Topic,
		Value:     sarama.ByteEncoder(r.Value),
		Timestamp: at,
	}
	if r.Key != "" {
		msg.Key = sarama.StringEncoder(r.Key)
	}
	if len(r.Headers) == 0 {
		return msg
	}

	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msg.Headers = make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(r.Headers[k])})
	}
	return msg
}

// Producer пишет события сверки и записи DLQ синхронно: Send возвращается после подтверждения
// всех in-sync реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создаёт idempotent sync producer. Один ключ (order_id) всегда попадает
// в одну partition, поэтому события заказа читаются в порядке записи.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = "order-reconciler"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// Send отправляет одну запись.
func (p *Producer) Send(record Record) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	if record.Topic == "" {
		return errors.New("kafka record topic is required")
	}

	partition, offset, err := p.producer.SendMessage(record.message(time.Now().UTC()))
	entry := p.logger.WithFields(log.Fields{"topic": record.Topic, "key": record.Key})
	if err != nil {
		producedTotal.WithLabelValues(record.Topic, "error").Inc()
		entry.WithError(err).Error("kafka record was not written")
		return fmt.Errorf("send to %s: %w", record.Topic, err)
	}

	producedTotal.WithLabelValues(record.Topic, "ok").Inc()
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka record written")
	return nil
}

// Publish: Send для записи из отдельных полей.
func (p *Producer) Publish(topic, key string, payload []byte, headers map[string]string) error {
	return p.Send(Record{Topic: topic, Key: key, Value: payload, Headers: headers})
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
