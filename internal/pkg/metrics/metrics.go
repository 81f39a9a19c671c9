package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"kind"},
	)

	// reason: disabled, duplicate, cooldown, error
	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_skipped_total",
			Help: "Total number of notifications not created",
		},
		[]string{"kind", "reason"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_attempts_total",
			Help: "Total number of delivery attempts per channel and outcome",
		},
		[]string{"channel", "status"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "academic_events_consumed_total",
			Help: "Total number of academic events handled",
		},
		[]string{"topic", "status"},
	)

	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_maintenance_runs_total",
			Help: "Total number of maintenance task runs",
		},
		[]string{"task", "status"},
	)

	MaintenanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_maintenance_duration_seconds",
			Help:    "Maintenance task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"task"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordCreated(kind string) {
	NotificationsCreated.WithLabelValues(kind).Inc()
}

func RecordSkipped(kind, reason string) {
	NotificationsSkipped.WithLabelValues(kind, reason).Inc()
}

func RecordDelivery(channel, status string) {
	DeliveryAttempts.WithLabelValues(channel, status).Inc()
}

func RecordEvent(topic, status string) {
	EventsConsumed.WithLabelValues(topic, status).Inc()
}

// RecordMaintenance records one task run
func RecordMaintenance(task string, failed int, duration time.Duration) {
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	MaintenanceRuns.WithLabelValues(task, status).Inc()
	MaintenanceDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveOpenStreams exposes count as the sse_open_streams gauge
func ObserveOpenStreams(count func() int) (prometheus.Collector, error) {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sse_open_streams",
			Help: "Number of open notification streams",
		},
		func() float64 { return float64(count()) },
	)
	if err := prometheus.Register(gauge); err != nil {
		return nil, err
	}
	return gauge, nil
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware observes request latency labelled by the matched chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
