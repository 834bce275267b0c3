package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// Outcome — решение по запросу с Idempotency-Key.
type Outcome int

const (
	// OutcomeProceed — ключ занят этим запросом, его нужно выполнить и завершить через Complete.
	OutcomeProceed Outcome = iota
	// OutcomeReplay — запрос уже выполнен, нужно вернуть сохранённый ответ.
	OutcomeReplay
	// OutcomeInProgress — запрос с тем же ключом ещё выполняется.
	OutcomeInProgress
	// OutcomeMismatch — ключ уже использован с другим телом запроса.
	OutcomeMismatch
)

// Decision — результат Begin.
type Decision struct {
	Outcome Outcome
	Record  domain.IdempotencyRecord
}

// Guard хранит ответы на мутирующие запросы, чтобы повтор с тем же ключом
// не создавал второй заказ и не резервировал товары заново.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl <= 0 означает domain.DefaultIdempotencyTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// RequestHash строит отпечаток запроса: метод, путь, вызывающий и тело.
func RequestHash(method, path, principal string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(method), path, principal} {
		h.Write([]byte(part))
		h.Write([]byte{':'})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin занимает ключ или сообщает, что делать с повтором.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (Decision, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, domain.TTLFrom(g.now(), g.ttl))
	switch {
	case err == nil:
		return Decision{Outcome: OutcomeProceed, Record: record}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Decision{Outcome: OutcomeMismatch, Record: record}, nil
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Replayable() {
			return Decision{Outcome: OutcomeReplay, Record: record}, nil
		}
		return Decision{Outcome: OutcomeInProgress, Record: record}, nil
	default:
		return Decision{}, fmt.Errorf("begin idempotent request: %w", err)
	}
}

// Complete сохраняет ответ. Ошибки только логируются: ответ клиенту уже сформирован.
func (g *Guard) Complete(ctx context.Context, key string, httpStatus int, body []byte) {
	var err error
	if httpStatus >= 200 && httpStatus < 300 {
		err = g.repo.MarkDone(ctx, key, body, httpStatus)
	} else {
		err = g.repo.MarkFailed(ctx, key, body, httpStatus)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
