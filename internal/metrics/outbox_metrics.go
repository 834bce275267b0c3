package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации сообщений outbox.
const (
	PublishSent      = "sent"
	PublishRetry     = "retry_error"
	PublishFailed    = "failed"
	PublishDLQFailed = "dlq_failed"
)

// OutboxMetrics описывает фоновые воркеры: доставку уведомлений из outbox
// и очистку просроченных idempotency-ключей.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
	cleanupDeleted   prometheus.Counter
}

// NewOutboxMetrics регистрирует метрики в DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в указанном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "petmarket_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "petmarket_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "petmarket_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "petmarket_idempotency_keys_deleted_total",
			Help: "Total number of expired idempotency keys removed by cleanup.",
		}),
	}
}

// RecordPublish увеличивает счётчик попыток публикации с указанным результатом.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}

// RecordCleanup учитывает удалённые просроченные idempotency-ключи.
func (m *OutboxMetrics) RecordCleanup(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(deleted))
}
