package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/petmarket/internal/app"
)

const (
	envHTTPAddr                    = "PETS_HTTP_ADDR"
	envGRPCAddr                    = "PETS_GRPC_ADDR"
	envMetricsAddr                 = "PETS_METRICS_ADDR"
	envStorageDriver               = "PETS_STORAGE_DRIVER"
	envPostgresDSN                 = "PETS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "PETS_POSTGRES_AUTO_MIGRATE"
	envRedisAddr                   = "PETS_REDIS_ADDR"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaTopic                  = "PETS_KAFKA_TOPIC"
	envSMTPHost                    = "PETS_SMTP_HOST"
	envSMTPPort                    = "PETS_SMTP_PORT"
	envSMTPUsername                = "PETS_SMTP_USERNAME"
	envSMTPPassword                = "PETS_SMTP_PASSWORD"
	envSMTPFrom                    = "PETS_SMTP_FROM"
	envOutboxPollInterval          = "PETS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "PETS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "PETS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "PETS_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "PETS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "PETS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "PETS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envRequestTimeout              = "PETS_REQUEST_TIMEOUT"
	envLogLevel                    = "PETS_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не валят запуск: остаётся значение по умолчанию и
// возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	positiveInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		d, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		b, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", envPostgresAutoMigrate, err))
		} else {
			cfg.PostgresAutoMigrate = b
		}
	}
	str(envRedisAddr, &cfg.RedisAddr)
	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)

	str(envSMTPHost, &cfg.SMTP.Host)
	positiveInt(envSMTPPort, &cfg.SMTP.Port)
	str(envSMTPUsername, &cfg.SMTP.Username)
	if v, ok := lookup(envSMTPPassword); ok {
		cfg.SMTP.Password = v
	}
	str(envSMTPFrom, &cfg.SMTP.From)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)
	duration(envRequestTimeout, &cfg.RequestTimeout, positive, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(v) {
		return 0, fmt.Errorf("value %d %s", v, rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(v) {
		return 0, fmt.Errorf("value %s %s", v, rule)
	}
	return v, nil
}
