package redisx

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const defaultLocalRedisAddr = "localhost:6379"

func openRepositoryForTest(t *testing.T) *IdempotencyRepository {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("PETS_REDIS_TEST_ADDR"))
	if addr == "" {
		addr = defaultLocalRedisAddr
	}

	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })

	repo := NewIdempotencyRepository(rdb)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := repo.Ping(ctx); err != nil {
		t.Skipf("redis is not available for integration tests: %v", err)
	}
	return repo
}

func TestIdempotencyRepository_RedisCreateGetAndMarkDone(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()
	key := "test-" + uuid.NewString()

	created, err := repo.CreateProcessing(ctx, key, "hash-1", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	require.NoError(t, repo.MarkDone(ctx, key, []byte(`{"id":"order-1"}`), 201))

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.JSONEq(t, `{"id":"order-1"}`, string(got.ResponseBody))

	ttl, err := repo.rdb.TTL(ctx, redisKey(key)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0), "MarkDone must keep the key TTL")
}

func TestIdempotencyRepository_RedisConflicts(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()
	key := "test-" + uuid.NewString()
	ttl := time.Now().UTC().Add(time.Minute)

	_, err := repo.CreateProcessing(ctx, key, "hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, key, "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, key, "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_RedisMissingKey(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing-"+uuid.NewString())
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	err = repo.MarkFailed(ctx, "missing-"+uuid.NewString(), nil, 500)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ValidationWithoutRedis(t *testing.T) {
	repo := NewIdempotencyRepository(New("127.0.0.1:1"))
	ctx := context.Background()

	_, err := repo.CreateProcessing(ctx, " ", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = repo.CreateProcessing(ctx, "key", "", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	removed, err := repo.DeleteExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Zero(t, removed)
}
