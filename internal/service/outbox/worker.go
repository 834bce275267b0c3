package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics включает счётчики доставки и gauge очереди.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт получателя писем, которые так и не ушли.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(w *Worker) { w.batchSize = size }
}

// WithMaxAttempts ограничивает число попыток на одно уведомление за цикл.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithRetryBaseDelay задаёт паузу перед второй попыткой; дальше она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = delay }
}

// Worker разбирает очередь уведомлений о заказах. Куда уходит письмо
// (SMTP, лог или topic Kafka), решает publisher.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	w.retryBaseDelay = max(w.retryBaseDelay, 0)
	return w
}

// Run разбирает очередь сразу и затем раз в pollInterval, пока жив ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает одну пачку pending-уведомлений и возвращает число
// доставленных. Недоставленное после всех попыток помечается failed.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.reportBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("outbox poll failed")
		return 0
	}

	delivered := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if w.handle(ctx, msg) {
			delivered++
		}
	}
	return delivered
}

func (w *Worker) handle(ctx context.Context, msg domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"order_id":   msg.AggregateID,
		"event_type": msg.EventType,
	})

	deliveryErr := w.deliver(ctx, msg)
	if deliveryErr == nil {
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Warn("notification sent but not marked")
			return false
		}
		return true
	}

	entry.WithError(deliveryErr).Error("notification not delivered")
	w.metrics.RecordPublish(metrics.PublishFailed)
	if err := w.sendDeadLetter(ctx, msg, deliveryErr); err != nil {
		entry.WithError(err).Warn("dead letter not published")
		w.metrics.RecordPublish(metrics.PublishDLQFailed)
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("failed notification not marked")
	}
	return false
}

// deliver делает до maxAttempts попыток с паузой retryDelay между ними.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, msg); err == nil {
			w.metrics.RecordPublish(metrics.PublishSent)
			return nil
		}
		w.metrics.RecordPublish(metrics.PublishRetry)
		if attempt == w.maxAttempts {
			break
		}

		if pause := w.retryDelay(attempt); pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrOutboxPublish, w.maxAttempts, err)
}

// retryDelay — base * 2^(attempt-1), не больше maxRetryDelay.
func (w *Worker) retryDelay(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) reportBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox stats unavailable")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, time.Now().UTC())
}

// deadLetter — тело сообщения для DLQ: исходное уведомление и причина отказа.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func newDeadLetter(msg domain.OutboxMessage, cause error, at time.Time) deadLetter {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	return deadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishError:  cause.Error(),
		FailedAt:      at.UTC(),
	}
}

func (w *Worker) sendDeadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}
	body, err := json.Marshal(newDeadLetter(msg, cause, time.Now()))
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	letter := msg
	letter.Payload = body
	if err := w.dlq.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", msg.ID, err)
	}
	return nil
}
