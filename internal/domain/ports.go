package domain

import (
	"context"
	"time"
)

// Notifier доставляет уведомление покупателю. Вызывается после коммита,
// ошибки не влияют на результат операции.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationEvent — тип события, по которому отправляется письмо.
type NotificationEvent string

const (
	NotificationOrderCreated       NotificationEvent = "order.created"
	NotificationOrderCancelled     NotificationEvent = "order.cancelled"
	NotificationOrderStatusChanged NotificationEvent = "order.status_changed"
)

// Notification — письмо покупателю о событии заказа.
type Notification struct {
	Event      NotificationEvent
	OrderID    string
	CustomerID string
	Status     OrderStatus
	To         string
	Subject    string
	Body       string
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
