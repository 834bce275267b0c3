package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// idempotencyRepository хранит ключи Idempotency-Key в idempotency_keys.
type idempotencyRepository struct {
	q   querier
	now func() time.Time
}

func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{
		q:   store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ одним INSERT. Строка с истёкшим TTL
// перезаписывается там же, не дожидаясь cleanup.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	rec, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var claimed string
	err = r.q.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys AS k (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE k.ttl_at <= EXCLUDED.created_at
		RETURNING k.key
	`, rec.Key, rec.RequestHash, string(rec.Status), rec.TTLAt, rec.CreatedAt).Scan(&claimed)
	switch {
	case err == nil:
		return rec, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", rec.Key, err)
	}

	// ключ занят живой записью
	held, getErr := r.Get(ctx, rec.Key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return held, held.ReuseError(rec.RequestHash)
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		rec    domain.IdempotencyRecord
		status string
		code   sql.NullInt64
	)
	err = r.q.QueryRowContext(ctx, `
		SELECT key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(&rec.Key, &rec.RequestHash, &rec.ResponseBody, &code, &status, &rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load idempotency key %s: %w", key, err)
	}

	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, status)
	}
	if code.Valid {
		rec.HTTPStatus = int(code.Int64)
	}
	rec.TTLAt = rec.TTLAt.UTC()
	return rec, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, body []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, body, httpStatus)
}

// DeleteExpired удаляет до limit просроченных ключей, самые старые первыми.
// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}
	batch := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	return int(n), nil
}

func (r *idempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1
	`, key, string(status), body, httpStatus, r.now())
	if err != nil {
		return fmt.Errorf("store %s response for idempotency key %s: %w", status, key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("store %s response for idempotency key %s: %w", status, key, err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
