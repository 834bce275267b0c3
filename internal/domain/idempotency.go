package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL — срок хранения ответа, если TTL не задан явно.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — запрос завершён, ответ сохранён для повтора.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — обработка завершилась ошибкой, сохранён ответ с ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит HTTP-ответ на запрос с заголовком Idempotency-Key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Expired сообщает, истёк ли срок хранения записи к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// Replayable сообщает, можно ли отдать сохранённый ответ повторно.
func (r IdempotencyRecord) Replayable() bool {
	return (r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed) && r.HTTPStatus > 0
}

// TTLFrom возвращает момент истечения записи, созданной в now.
func TTLFrom(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return now.Add(ttl)
}

// NewIdempotencyRecord собирает запись processing для ключа key.
// Пробелы по краям отбрасываются; нулевой ttlAt означает now + DefaultIdempotencyTTL.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	case requestHash == "":
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = TTLFrom(now, 0)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IdempotencyKey нормализует ключ из заголовка запроса.
func IdempotencyKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// ReuseError — ошибка повторного захвата живого ключа запросом с requestHash.
func (r IdempotencyRecord) ReuseError(requestHash string) error {
	if r.RequestHash != requestHash {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}
