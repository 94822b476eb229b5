package kafka

import (
	"fmt"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// Заголовки, по которым потребители событий различают тип события без разбора payload.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// OutboxRecord превращает outbox-сообщение в запись Kafka. Ключ: order_id,
// сообщения без агрегата ключуются своим ID.
func OutboxRecord(topic string, msg domain.OutboxMessage) Record {
	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	return Record{
		Topic: topic,
		Key:   key,
		Value: msg.Payload,
		Headers: map[string]string{
			HeaderEventType:     msg.EventType,
			HeaderAggregateType: msg.AggregateType,
			HeaderOutboxID:      msg.ID,
		},
	}
}

// OutboxTopicPublisher: domain.OutboxPublisher поверх Producer. Payload уходит без изменений.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher публикует в topic. Пустой topic: TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if err := p.producer.Send(OutboxRecord(p.topic, msg)); err != nil {
		return fmt.Errorf("%w: outbox %s: %v", domain.ErrOutboxPublish, msg.ID, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
