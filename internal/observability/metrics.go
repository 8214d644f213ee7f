package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks reconciliation activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	BatchesTotal       prometheus.Counter
	BatchDuration      prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
	CallbacksTotal     *prometheus.CounterVec
	CallbackFailures   *prometheus.CounterVec
	StorageErrors      prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			BatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "callbot_notification_batches_total",
				Help: "Total number of webhook notification batches handled",
			}),
			BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "callbot_notification_batch_duration_seconds",
				Help:    "Time spent reconciling one notification batch, gate wait included",
				Buckets: prometheus.DefBuckets,
			}),
			NotificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "callbot_notifications_total",
				Help: "Notifications reconciled, by outcome",
			}, []string{"outcome"}),
			CallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "callbot_callbacks_total",
				Help: "Lifecycle callbacks invoked, by event",
			}, []string{"event"}),
			CallbackFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "callbot_callback_failures_total",
				Help: "Lifecycle callbacks that returned an error or panicked, by event",
			}, []string{"event"}),
			StorageErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "callbot_storage_errors_total",
				Help: "Batches aborted by a state or history storage error",
			}),
		}
	})
	return metricsInstance
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveBatch(start time.Time) {
	if m == nil || m.BatchesTotal == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.BatchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordProcessed() {
	if m == nil || m.NotificationsTotal == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues("processed").Inc()
}

func (m *Metrics) RecordSkipped() {
	if m == nil || m.NotificationsTotal == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues("skipped").Inc()
}

func (m *Metrics) RecordCallback(event string) {
	if m == nil || m.CallbacksTotal == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordCallbackFailure(event string) {
	if m == nil || m.CallbackFailures == nil {
		return
	}
	m.CallbackFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordStorageError() {
	if m == nil || m.StorageErrors == nil {
		return
	}
	m.StorageErrors.Inc()
}
