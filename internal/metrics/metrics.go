package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueJoinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipline_queue_joins_total",
			Help: "Total number of successful queue joins by entry method",
		},
		[]string{"method"},
	)

	JoinRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipline_join_rejections_total",
			Help: "Total number of rejected joins by error code",
		},
		[]string{"code"},
	)

	EntryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipline_entry_transitions_total",
			Help: "Total number of entry status changes by target status",
		},
		[]string{"status"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipline_notifications_total",
			Help: "Total number of notification attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	NotificationsDeadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skipline_notifications_dead_total",
			Help: "Total number of notification jobs moved to the dead letter queue",
		},
	)

	NotificationsDLQDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skipline_notifications_dlq_depth",
			Help: "Number of notification jobs waiting in the dead letter queue",
		},
	)

	// API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipline_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skipline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skipline_ws_connections",
			Help: "Number of open staff websocket connections",
		},
	)

	// Scheduler metrics
	SweptEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skipline_swept_entries_total",
			Help: "Total number of called entries expired to no-show",
		},
	)

	DeletedGuestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skipline_deleted_guests_total",
			Help: "Total number of stale guest profiles removed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueueJoinsTotal,
		JoinRejectionsTotal,
		EntryTransitionsTotal,
		NotificationsTotal,
		NotificationsDeadTotal,
		NotificationsDLQDepth,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		WSConnections,
		SweptEntriesTotal,
		DeletedGuestsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds into o
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
