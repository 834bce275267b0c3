package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg      domain.OutboxMessage
	queuedAt time.Time
	attempts int
}

// OutboxRepository — очередь уведомлений в памяти. Выдача идёт в порядке
// постановки; отправленные и проваленные сообщения из очереди уходят.
type OutboxRepository struct {
	mu      sync.Mutex
	pending []*outboxEntry
	done    map[string]*outboxEntry
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		done: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if strings.TrimSpace(msg.EventType) == "" {
		return domain.OutboxMessage{}, errors.New("outbox message without event type")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(msg.ID) >= 0 || r.done[msg.ID] != nil {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already queued", msg.ID)
	}
	r.pending = append(r.pending, &outboxEntry{msg: msg, queuedAt: r.now()})
	return msg, nil
}

// PullPending возвращает до limit сообщений из головы очереди, не снимая их.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	return r.head(limit), nil
}

func (r *OutboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := domain.OutboxStats{PendingCount: len(r.pending)}
	if len(r.pending) > 0 {
		stats.OldestPendingAt = r.pending[0].queuedAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.finish(id)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.finish(id)
}

// AllPending возвращает всю очередь; нужен тестам.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.head(-1)
}

func (r *OutboxRepository) head(limit int) []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.pending)
	if limit >= 0 && limit < n {
		n = limit
	}
	out := make([]domain.OutboxMessage, 0, n)
	for _, e := range r.pending[:n] {
		out = append(out, e.msg)
	}
	return out
}

// finish снимает сообщение с очереди. Повторная отметка считает ещё одну попытку.
func (r *OutboxRepository) finish(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.done[id]; e != nil {
		e.attempts++
		return nil
	}
	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	e := r.pending[i]
	e.attempts++
	r.pending = append(r.pending[:i], r.pending[i+1:]...)
	r.done[id] = e
	return nil
}

func (r *OutboxRepository) indexOf(id string) int {
	for i, e := range r.pending {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
