package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) { w.logger = logger }
}

// WithMetrics включает счётчик удалённых ключей.
func WithMetrics(m *metrics.OutboxMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.interval = interval }
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом к хранилищу.
func WithBatchSize(n int) CleanupOption {
	return func(w *CleanupWorker) { w.batchSize = n }
}

// CleanupWorker удаляет сохранённые ответы checkout с истёкшим TTL.
// Redis-хранилищу он не нужен: ключи там истекают сами.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup")
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	return w
}

// Run чистит хранилище сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup interrupted")
	case deleted > 0:
		w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
	}
}

// DeleteExpired удаляет пачками все ключи с TTL не позже before и
// возвращает их число. Нулевой before означает текущий момент.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for ctx.Err() == nil {
		n, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		w.metrics.RecordCleanup(n)
		// неполная пачка значит, что просроченных ключей не осталось
		if n < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
