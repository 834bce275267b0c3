package app

import (
	"time"

	"github.com/vladislavdragonenkov/petmarket/internal/service/notify"
)

// StorageDriver выбирает хранилище каталога и заказов.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска маркетплейса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr включает хранение ключей идемпотентности в Redis.
	RedisAddr string

	// KafkaBrokers — список брокеров через запятую. Пустой список отключает Kafka,
	// и письма отправляет сам сервис.
	KafkaBrokers string
	KafkaTopic   string

	SMTP notify.SMTPConfig

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска в памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            200 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		RequestTimeout:              15 * time.Second,
		ShutdownTimeout:             10 * time.Second,
	}
}
