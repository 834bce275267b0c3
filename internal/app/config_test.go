package app

import (
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected GRPCAddr :50051, got %s", cfg.GRPCAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.KafkaBrokers != "" {
		t.Errorf("kafka must be disabled by default, got %q", cfg.KafkaBrokers)
	}
	if cfg.OutboxPollInterval <= 0 {
		t.Error("expected OutboxPollInterval to be > 0")
	}
	if cfg.OutboxBatchSize <= 0 {
		t.Error("expected OutboxBatchSize to be > 0")
	}
	if cfg.OutboxMaxAttempts <= 0 {
		t.Error("expected OutboxMaxAttempts to be > 0")
	}
	if cfg.OutboxRetryDelay < 0 {
		t.Error("expected OutboxRetryDelay to be >= 0")
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("expected IdempotencyTTL 24h, got %s", cfg.IdempotencyTTL)
	}
	if cfg.IdempotencyCleanupInterval <= 0 {
		t.Error("expected IdempotencyCleanupInterval to be > 0")
	}
	if cfg.IdempotencyCleanupBatchSize <= 0 {
		t.Error("expected IdempotencyCleanupBatchSize to be > 0")
	}
	if cfg.ShutdownTimeout <= 0 {
		t.Error("expected ShutdownTimeout to be > 0")
	}
}

func TestConfig_EmptyValues(t *testing.T) {
	var cfg Config

	if cfg.HTTPAddr != "" || cfg.GRPCAddr != "" || cfg.MetricsAddr != "" {
		t.Errorf("zero value addresses must be empty: %+v", cfg)
	}
	if cfg.StorageDriver != "" {
		t.Errorf("expected empty StorageDriver, got %s", cfg.StorageDriver)
	}
	if cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be false for zero value")
	}
	if cfg.SMTP.Enabled() {
		t.Error("zero SMTP config must not be enabled")
	}
}

func TestConfig_Comparison(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg2 := DefaultConfig()

	if cfg1 != cfg2 {
		t.Error("two DefaultConfig instances should be equal")
	}

	cfg2.HTTPAddr = ":8081"
	if cfg1 == cfg2 {
		t.Error("modified config should not be equal to original")
	}
}
