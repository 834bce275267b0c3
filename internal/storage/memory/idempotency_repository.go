package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// IdempotencyRepository держит ключи Idempotency-Key в памяти процесса.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]domain.IdempotencyRecord
	now  func() time.Time
}

func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		keys: make(map[string]domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ. Ключ с истёкшим TTL занимается заново.
func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	rec, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if held, ok := r.keys[rec.Key]; ok && !held.Expired(rec.CreatedAt) {
		return copyRecord(held), held.ReuseError(rec.RequestHash)
	}
	r.keys[rec.Key] = rec
	return copyRecord(rec), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.keys[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(rec), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, body, httpStatus)
}

// DeleteExpired удаляет до limit записей с TTL не позже before,
// начиная с самых старых. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, rec := range r.keys {
		if rec.Expired(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(r.keys, rec.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = status
	rec.ResponseBody = append([]byte(nil), body...)
	rec.HTTPStatus = httpStatus
	rec.UpdatedAt = r.now()
	r.keys[key] = rec
	return nil
}

func copyRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return rec
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
