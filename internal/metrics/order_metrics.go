package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты отправки уведомлений.
const (
	ResultQueued = "queued"
	ResultFailed = "failed"
)

// OrderMetrics содержит метрики жизненного цикла заказов и резервов.
// Все методы безопасны для nil-получателя.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	orderConflicts  prometheus.Counter
	statusUpdates   *prometheus.CounterVec
	versionRetries  prometheus.Counter

	createDuration prometheus.Histogram

	productsReserved prometheus.Counter
	productsReleased prometheus.Counter

	notifications        *prometheus.CounterVec
	pendingNotifications prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в указанном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "petmarket_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "petmarket_orders_cancelled_total",
			Help: "Total number of orders cancelled by customers",
		}),
		orderConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "petmarket_order_conflicts_total",
			Help: "Total number of orders rejected because an item was already sold",
		}),
		statusUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "petmarket_order_status_updates_total",
			Help: "Total number of administrative status updates by target status",
		}, []string{"status"}),
		versionRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "petmarket_order_version_retries_total",
			Help: "Total number of retries caused by optimistic locking conflicts",
		}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "petmarket_order_create_duration_seconds",
			Help:    "Duration of order creation including reservation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		productsReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "petmarket_products_reserved_total",
			Help: "Total number of products reserved by orders",
		}),
		productsReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "petmarket_products_released_total",
			Help: "Total number of products returned to sale by cancellations",
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "petmarket_notifications_total",
			Help: "Total number of customer notifications by event and result",
		}, []string{"event", "result"}),
		pendingNotifications: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "petmarket_notifications_in_flight",
			Help: "Number of notifications being dispatched in background",
		}),
	}
}

// RecordOrderCreated фиксирует созданный заказ и число зарезервированных товаров.
func (m *OrderMetrics) RecordOrderCreated(items int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.productsReserved.Add(float64(items))
	m.createDuration.Observe(duration.Seconds())
}

// RecordOrderConflict фиксирует отказ из-за уже проданного товара.
func (m *OrderMetrics) RecordOrderConflict() {
	if m == nil {
		return
	}
	m.orderConflicts.Inc()
}

// RecordOrderCancelled фиксирует отмену и число возвращённых в продажу товаров.
func (m *OrderMetrics) RecordOrderCancelled(released int) {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
	m.productsReleased.Add(float64(released))
}

// RecordStatusUpdate фиксирует обновление статуса администратором.
func (m *OrderMetrics) RecordStatusUpdate(status string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(status).Inc()
}

// RecordVersionRetry фиксирует повтор из-за конфликта версий.
func (m *OrderMetrics) RecordVersionRetry() {
	if m == nil {
		return
	}
	m.versionRetries.Inc()
}

// RecordNotification фиксирует результат постановки уведомления.
func (m *OrderMetrics) RecordNotification(event, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event, result).Inc()
}

// NotificationStarted увеличивает число уведомлений в работе.
func (m *OrderMetrics) NotificationStarted() {
	if m == nil {
		return
	}
	m.pendingNotifications.Inc()
}

// NotificationFinished уменьшает число уведомлений в работе.
func (m *OrderMetrics) NotificationFinished() {
	if m == nil {
		return
	}
	m.pendingNotifications.Dec()
}
