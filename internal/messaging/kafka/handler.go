package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// OutboxHandler передаёт сообщения из topic уведомлений дальше, обычно
// в notify.MailPublisher. Нечитаемые сообщения пропускаются: повтор их не исправит.
func OutboxHandler(next domain.OutboxPublisher, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-outbox-handler")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		env, err := ParseEnvelope(message)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"topic":  message.Topic,
				"offset": message.Offset,
			}).Warn("skipping malformed notification message")
			return nil
		}
		return next.Publish(ctx, env.Message())
	}
}
