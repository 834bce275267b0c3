package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// OutboxTopicPublisher публикует уведомления из outbox в Kafka topic.
// Письма отправляет отдельный процесс cmd/notifier.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderNotifications
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Ключ по заказу сохраняет порядок уведомлений одного заказа в партиции.
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.PublishEvent(p.topic, key, NewEnvelope(event, time.Now()), sarama.RecordHeader{
		Key:   []byte(HeaderEventType),
		Value: []byte(event.EventType),
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
