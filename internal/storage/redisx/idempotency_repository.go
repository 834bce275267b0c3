package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const (
	keyPrefix = "petmarket:idem:"
	opTimeout = 2 * time.Second
	// minTTL не даёт записать ключ без срока жизни, если ttlAt уже в прошлом.
	minTTL = time.Second
)

// New создаёт клиента Redis.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})
}

type record struct {
	RequestHash  string    `json:"request_hash"`
	Status       string    `json:"status"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IdempotencyRepository хранит ключи идемпотентности в Redis.
// Истечение ключей выполняет сам Redis через TTL.
type IdempotencyRepository struct {
	rdb *redis.Client
	now func() time.Time
}

// NewIdempotencyRepository создаёт Redis-реализацию IdempotencyRepository.
func NewIdempotencyRepository(rdb *redis.Client) *IdempotencyRepository {
	return &IdempotencyRepository{
		rdb: rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func redisKey(key string) string {
	return keyPrefix + key
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = domain.TTLFrom(now, 0)
	}
	ttl := ttlAt.Sub(now)
	if ttl < minTTL {
		ttl = minTTL
	}

	rec := record{
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ok, err := r.rdb.SetNX(ctx, redisKey(key), payload, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if !ok {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return toDomain(key, rec), nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	out := toDomain(key, rec)
	if !out.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", rec.Status, key)
	}
	return out, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не делает: просроченные ключи удаляет Redis.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}

// markStatus обновляет запись под WATCH, сохраняя оставшийся TTL.
func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rk := redisKey(key)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, rk).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrIdempotencyKeyNotFound
			}
			return err
		}

		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode idempotency record %s: %w", key, err)
		}
		rec.Status = string(status)
		rec.ResponseBody = append([]byte(nil), responseBody...)
		rec.HTTPStatus = httpStatus
		rec.UpdatedAt = r.now()

		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal idempotency record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, rk, payload, redis.SetArgs{KeepTTL: true, Mode: "XX"})
			return nil
		})
		return err
	}, rk)
	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return err
		}
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	return nil
}

func toDomain(key string, rec record) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  rec.RequestHash,
		Status:       domain.IdempotencyStatus(rec.Status),
		ResponseBody: append([]byte(nil), rec.ResponseBody...),
		HTTPStatus:   rec.HTTPStatus,
		TTLAt:        rec.TTLAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
