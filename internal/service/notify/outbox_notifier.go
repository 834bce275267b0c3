package notify

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// AggregateOrder — тип агрегата для сообщений outbox о заказах.
const AggregateOrder = "order"

// OutboxNotifier ставит уведомления в outbox; отправку выполняет воркер.
type OutboxNotifier struct {
	outbox domain.OutboxRepository
	logger *log.Entry
}

// NewOutboxNotifier создаёт Notifier поверх outbox.
func NewOutboxNotifier(outbox domain.OutboxRepository, logger *log.Entry) *OutboxNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "notifier")
	}
	return &OutboxNotifier{outbox: outbox, logger: logger}
}

func (n *OutboxNotifier) Notify(ctx context.Context, notification domain.Notification) error {
	payload, err := EncodePayload(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg, err := n.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   notification.OrderID,
		EventType:     string(notification.Event),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	n.logger.WithFields(log.Fields{
		"order_id":  notification.OrderID,
		"event":     notification.Event,
		"outbox_id": msg.ID,
	}).Debug("notification enqueued")
	return nil
}

var _ domain.Notifier = (*OutboxNotifier)(nil)
