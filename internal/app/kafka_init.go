package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/petmarket/internal/service/notify"
)

const kafkaClientID = "petmarket-marketplace"

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// initKafkaProducer инициализирует Kafka producer, если брокеры заданы.
// Возвращает nil, nil при пустом списке брокеров.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, kafkaClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает Kafka producer, если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// outboxPublishers выбирает, куда outbox worker отправляет уведомления.
// С Kafka письма уходят в topic, их читает cmd/notifier; без Kafka сервис шлёт письма сам.
func outboxPublishers(cfg Config, producer *kafka.Producer, logger *log.Entry) (publisher, dlq domain.OutboxPublisher) {
	if producer != nil {
		return kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
	}
	mailLogger := logger.WithField("component", "mailer")
	return notify.NewMailPublisher(notify.NewMailer(cfg.SMTP, mailLogger), mailLogger), nil
}
