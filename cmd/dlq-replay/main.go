// Command dlq-replay возвращает сообщения из DLQ в рабочие топики.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderrecon/internal/service/outbox"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

var errNotReplayable = errors.New("record is not replayable")

type config struct {
	brokers     []string
	dlqTopic    string
	eventsTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// replayRecord: сообщение, которое нужно вернуть в рабочий топик.
type replayRecord struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

type recordSink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type consumerSource struct {
	consumer sarama.Consumer
}

func (s consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s consumerSource) Close() error {
	return s.consumer.Close()
}

// dial подменяется в тестах.
var dial = func(cfg config) (offsetReader, partitionSource, recordSink, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return client, consumerSource{consumer: consumer}, nil, nil
	}

	producerCfg := sarama.NewConfig()
	producerCfg.Producer.RequiredAcks = sarama.WaitForAll
	producerCfg.Producer.Return.Successes = true
	producerCfg.Producer.Idempotent = true
	producerCfg.Net.MaxOpenRequests = 1
	producer, err := sarama.NewSyncProducer(cfg.brokers, producerCfg)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, consumerSource{consumer: consumer}, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}
	log.WithFields(log.Fields{
		"execute":  cfg.execute,
		"scanned":  summary.scanned,
		"replayed": summary.replayed,
		"skipped":  summary.skipped,
	}).Info("dlq replay finished")
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)

	var (
		brokers string
		cfg     config
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: RECON_KAFKA_BROKERS)")
	fs.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicOrderEvents, "topic for replayed outbox events")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max number of DLQ records to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish records instead of dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("RECON_KAFKA_BROKERS")
	}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.brokers = append(cfg.brokers, b)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or RECON_KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.dlqTopic) == "":
		return config{}, errors.New("dlq-topic is required")
	case strings.TrimSpace(cfg.eventsTopic) == "":
		return config{}, errors.New("events-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *summary) add(o summary) {
	s.scanned += o.scanned
	s.replayed += o.replayed
	s.skipped += o.skipped
}

func run(ctx context.Context, cfg config) (summary, error) {
	offsets, source, sink, err := dial(cfg)
	if err != nil {
		return summary{}, err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		_ = source.Close()
		_ = offsets.Close()
	}()
	return replay(ctx, cfg, offsets, source, sink)
}

func replay(ctx context.Context, cfg config, offsets offsetReader, source partitionSource, sink recordSink) (summary, error) {
	if cfg.execute && sink == nil {
		return summary{}, errors.New("producer is required in execute mode")
	}

	partitions, err := offsets.Partitions(cfg.dlqTopic)
	if err != nil {
		return summary{}, fmt.Errorf("list partitions of %s: %w", cfg.dlqTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total summary
	for _, partition := range partitions {
		if total.scanned >= cfg.limit {
			break
		}
		part, err := replayPartition(ctx, cfg, offsets, source, sink, partition, cfg.limit-total.scanned)
		total.add(part)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// replayPartition читает партицию от самого старого до зафиксированного на старте newest offset.
func replayPartition(ctx context.Context, cfg config, offsets offsetReader, source partitionSource, sink recordSink, partition int32, limit int) (summary, error) {
	var s summary

	oldest, err := offsets.GetOffset(cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return s, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := offsets.GetOffset(cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return s, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return s, nil
	}

	reader, err := source.ConsumePartition(cfg.dlqTopic, partition, oldest)
	if err != nil {
		return s, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for s.scanned < limit {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-idle.C:
			return s, nil
		case cerr := <-reader.Errors():
			if cerr != nil {
				return s, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return s, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			s.scanned++
			rec, err := decodeDLQRecord(msg, cfg.eventsTopic)
			if err != nil {
				s.skipped++
				log.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq record")
			} else {
				if cfg.execute {
					if err := send(sink, rec); err != nil {
						return s, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
					}
				} else {
					log.WithFields(log.Fields{
						"offset": msg.Offset,
						"topic":  rec.topic,
						"key":    rec.key,
					}).Info("dlq replay candidate")
				}
				s.replayed++
			}

			if msg.Offset+1 >= newest {
				return s, nil
			}
		}
	}
	return s, nil
}

// decodeDLQRecord распознаёт запись consumer сигналов и запись outbox worker.
func decodeDLQRecord(msg *sarama.ConsumerMessage, eventsTopic string) (replayRecord, error) {
	// Повтор из DLQ начинается с полного числа попыток: x-retry-count не переносится.
	if sig, ok := kafka.DecodeSignalDeadLetter(msg.Value); ok {
		topic := strings.TrimSpace(sig.OriginalTopic)
		if topic == "" {
			topic = kafka.TopicOrderSignals
		}
		return replayRecord{topic: topic, key: sig.OriginalKey, value: []byte(sig.OriginalValue)}, nil
	}

	letter, err := outbox.DecodeDeadLetter(msg.Value)
	if err != nil {
		return replayRecord{}, fmt.Errorf("%w: %v", errNotReplayable, err)
	}

	rec := kafka.OutboxRecord(eventsTopic, letter.Message())
	return replayRecord{topic: rec.Topic, key: rec.Key, value: rec.Value, headers: rec.Headers}, nil
}

func send(sink recordSink, rec replayRecord) error {
	msg := &sarama.ProducerMessage{
		Topic:     rec.topic,
		Key:       sarama.StringEncoder(rec.key),
		Value:     sarama.ByteEncoder(rec.value),
		Timestamp: time.Now().UTC(),
	}
	for k, v := range rec.headers {
		if v == "" {
			continue
		}
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	_, _, err := sink.SendMessage(msg)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
