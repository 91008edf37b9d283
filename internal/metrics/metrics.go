package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizalim_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizalim_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizalim_tasks_processed_total",
			Help: "Total orchestration tasks processed by type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizalim_task_duration_seconds",
			Help:    "Task handler execution time",
			Buckets: []float64{.05, .1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"task_type"},
	)

	programsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizalim_programs_fetched_total",
			Help: "Total support programs fetched from the catalog by check type",
		},
		[]string{"check_type"},
	)

	matchesComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizalim_matches_computed_total",
			Help: "Total (user, program) matches above threshold",
		},
	)

	messagesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizalim_messages_queued_total",
			Help: "Total messages queued by type",
		},
		[]string{"message_type"},
	)

	messagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizalim_messages_processed_total",
			Help: "Total queue drain outcomes by status",
		},
		[]string{"status", "message_type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTaskProcessed records a task handler outcome
func RecordTaskProcessed(taskType, outcome string) {
	tasksProcessed.WithLabelValues(taskType, outcome).Inc()
}

// RecordTaskDuration records how long a task handler ran
func RecordTaskDuration(taskType string, duration time.Duration) {
	taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// RecordProgramsFetched records catalog fetch sizes
func RecordProgramsFetched(checkType string, count int) {
	programsFetched.WithLabelValues(checkType).Add(float64(count))
}

// RecordMatchesComputed records matches above threshold
func RecordMatchesComputed(count int) {
	matchesComputed.Add(float64(count))
}

// RecordMessagesQueued records generator queue inserts
func RecordMessagesQueued(messageType string, count int) {
	messagesQueued.WithLabelValues(messageType).Add(float64(count))
}

// RecordMessageProcessed records one queue drain outcome
func RecordMessageProcessed(status, messageType string) {
	messagesProcessed.WithLabelValues(status, messageType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
