package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики API заказов.
type OrderMetrics struct {
	// HTTP
	requestDuration *prometheus.HistogramVec

	// Операции над заказами
	ordersCreated  prometheus.Counter
	ordersUpdated  prometheus.Counter
	ordersDeleted  prometheus.Counter
	updateFailures *prometheus.CounterVec
	batchSize      *prometheus.HistogramVec

	// Побочные эффекты после коммита
	timelineEvents prometheus.Counter
	outboxEnqueued prometheus.Counter
	sideEffectErrs *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в заданном реестре (изолированные тесты).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		requestDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_http_request_duration_seconds",
			Help:    "Duration of HTTP requests to the orders API in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersUpdated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_updated_total",
			Help: "Total number of orders updated",
		}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_deleted_total",
			Help: "Total number of orders deleted",
		}),
		updateFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_update_failures_total",
			Help: "Total number of rejected order updates grouped by reason",
		}, []string{"reason"}),
		batchSize: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_batch_size",
			Help:    "Number of orders per create/update request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_enqueued_total",
			Help: "Total number of order events put into the outbox",
		}),
		sideEffectErrs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_side_effect_errors_total",
			Help: "Total number of failed post-commit side effects grouped by kind",
		}, []string{"kind"}),
	}
}

// ObserveRequest записывает длительность HTTP-запроса.
func (m *OrderMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordCreated увеличивает счётчик созданных заказов на n.
func (m *OrderMetrics) RecordCreated(n int) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(float64(n))
	m.batchSize.WithLabelValues("create").Observe(float64(n))
}

// RecordUpdateBatch фиксирует размер пакета обновления и число успешных позиций.
func (m *OrderMetrics) RecordUpdateBatch(size, succeeded int) {
	if m == nil {
		return
	}
	m.batchSize.WithLabelValues("update").Observe(float64(size))
	m.ordersUpdated.Add(float64(succeeded))
}

// RecordUpdateFailure увеличивает счётчик отказов обновления по причине.
func (m *OrderMetrics) RecordUpdateFailure(reason string) {
	if m == nil {
		return
	}
	m.updateFailures.WithLabelValues(reason).Inc()
}

// RecordDeleted увеличивает счётчик удалённых заказов.
func (m *OrderMetrics) RecordDeleted() {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEnqueued увеличивает счётчик событий, поставленных в outbox.
func (m *OrderMetrics) RecordOutboxEnqueued() {
	if m == nil {
		return
	}
	m.outboxEnqueued.Inc()
}

// RecordSideEffectError фиксирует неуспешный побочный эффект (timeline, outbox).
func (m *OrderMetrics) RecordSideEffectError(kind string) {
	if m == nil {
		return
	}
	m.sideEffectErrs.WithLabelValues(kind).Inc()
}
