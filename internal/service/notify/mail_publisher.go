package notify

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// MailPublisher публикует сообщения outbox как письма.
// Используется, когда Kafka не настроена и письма отправляет сам сервис.
type MailPublisher struct {
	mailer Mailer
	logger *log.Entry
}

// NewMailPublisher создаёт OutboxPublisher поверх Mailer.
func NewMailPublisher(mailer Mailer, logger *log.Entry) *MailPublisher {
	if logger == nil {
		logger = log.New().WithField("component", "mail-publisher")
	}
	return &MailPublisher{mailer: mailer, logger: logger}
}

func (p *MailPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	notification, err := DecodePayload(msg.Payload)
	if err != nil {
		return err
	}
	return Deliver(ctx, p.mailer, notification, p.logger)
}

// Deliver отправляет уведомление. Без адреса письмо пропускается.
func Deliver(ctx context.Context, mailer Mailer, n domain.Notification, logger *log.Entry) error {
	if n.To == "" {
		logger.WithFields(log.Fields{
			"order_id": n.OrderID,
			"event":    n.Event,
		}).Debug("notification without recipient skipped")
		return nil
	}
	if err := mailer.Send(ctx, n.To, n.Subject, n.Body); err != nil {
		return fmt.Errorf("send %s email for order %s: %w", n.Event, n.OrderID, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*MailPublisher)(nil)
