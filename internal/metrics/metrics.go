package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsDispatched *prometheus.CounterVec
	TaskExecutions          *prometheus.CounterVec
	WebhookDeliveries       *prometheus.CounterVec
	DeliveryLatency         prometheus.Histogram
	Backlog                 *prometheus.GaugeVec
	HTTPRequests            *prometheus.CounterVec
	HTTPLatency             *prometheus.HistogramVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Notification dispatch outcomes by terminal status.",
		}, []string{"status"}),

		TaskExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_executions_total",
			Help: "Scheduled task execution outcomes.",
		}, []string{"status"}),

		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempt outcomes.",
		}, []string{"status"}),

		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_delivery_seconds",
			Help:    "Outbound webhook delivery attempt duration.",
			Buckets: prometheus.DefBuckets,
		}),

		Backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_backlog",
			Help: "Due items observed by each dispatch loop on its latest tick.",
		}, []string{"loop"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.NotificationsDispatched,
		m.TaskExecutions,
		m.WebhookDeliveries,
		m.DeliveryLatency,
		m.Backlog,
		m.HTTPRequests,
		m.HTTPLatency,
	)

	return m
}

// Hooks returns the callback closures the background loops expect, keeping
// the loops free of prometheus imports.
func (m *Metrics) Hooks() (
	onExecution func(domain.ExecutionStatus),
	onDelivery func(domain.DeliveryStatus, time.Duration),
	onDispatch func(domain.NotificationStatus),
) {
	onExecution = func(status domain.ExecutionStatus) {
		m.TaskExecutions.WithLabelValues(string(status)).Inc()
	}
	onDelivery = func(status domain.DeliveryStatus, d time.Duration) {
		m.WebhookDeliveries.WithLabelValues(string(status)).Inc()
		if d > 0 {
			m.DeliveryLatency.Observe(d.Seconds())
		}
	}
	onDispatch = func(status domain.NotificationStatus) {
		m.NotificationsDispatched.WithLabelValues(string(status)).Inc()
	}
	return
}

// BacklogGauge returns a closure a dispatch loop calls each tick with the
// number of due items it saw.
func (m *Metrics) BacklogGauge(loop string) func(int) {
	g := m.Backlog.WithLabelValues(loop)
	return func(n int) { g.Set(float64(n)) }
}
