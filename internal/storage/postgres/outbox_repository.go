package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const defaultOutboxBatch = 100

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"
)

// outboxRepository — очередь писем о заказах в таблице outbox_messages.
// Порядок выдачи задаёт seq.
type outboxRepository struct {
	q   querier
	now func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-очередь уведомлений.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		q:   store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue ставит уведомление в очередь со статусом pending.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if strings.TrimSpace(msg.EventType) == "" {
		return domain.OutboxMessage{}, errors.New("outbox message without event type")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Payload == nil {
		msg.Payload = []byte{}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, string(outboxPending), now); err != nil {
		if isUniqueViolation(err) {
			return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already queued", msg.ID)
		}
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for order %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending возвращает до limit писем pending в порядке постановки.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	batch, err := collect(ctx, r.q, scanOutboxMessage, `SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY seq
		LIMIT $2`, string(outboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending notifications: %w", err)
	}
	return batch, nil
}

func scanOutboxMessage(row rowScanner) (domain.OutboxMessage, error) {
	var m domain.OutboxMessage
	err := row.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload)
	return m, err
}

// Stats возвращает число писем pending и время постановки самого старого.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		pending int
		oldest  sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1
	`, string(outboxPending)).Scan(&pending, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: pending}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxFailed)
}

// finish фиксирует итог попытки доставки. Неизвестный id — ErrOutboxPublish.
func (r *outboxRepository) finish(ctx context.Context, id string, status outboxStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var attempts int
	err := r.q.QueryRowContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1
		RETURNING attempt_count
	`, id, string(status), r.now()).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
