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
			Name: "notify_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_accepted_total",
			Help: "Notifications accepted by the ingress API, by channel",
		},
		[]string{"channel"},
	)

	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dispatch_attempts_total",
			Help: "Dispatch attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	retriesRearmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_retries_rearmed_total",
			Help: "Failed notifications re-armed by the retry scheduler",
		},
	)

	notificationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_notifications_expired_total",
			Help: "Notifications moved to EXPIRED by the scheduler",
		},
	)

	leasesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_leases_reclaimed_total",
			Help: "Stale SENDING leases reclaimed by the reconciliation sweep",
		},
	)

	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_callbacks_total",
			Help: "Terminal-state callback deliveries by outcome",
		},
		[]string{"outcome"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_idempotency_hits_total",
			Help: "Send requests answered from an existing idempotency key",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_rate_limit_rejections_total",
			Help: "Requests rejected by the ingress rate limiter",
		},
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

// RecordAccepted counts an accepted send request.
func RecordAccepted(channel string) {
	notificationsAccepted.WithLabelValues(channel).Inc()
}

// RecordDispatch counts one dispatch attempt ("sent" or "failed").
func RecordDispatch(channel, outcome string) {
	dispatchAttempts.WithLabelValues(channel, outcome).Inc()
}

// AddRearmed counts scheduler re-arms.
func AddRearmed(n int) {
	retriesRearmed.Add(float64(n))
}

// AddExpired counts scheduler expirations.
func AddExpired(n int) {
	notificationsExpired.Add(float64(n))
}

// AddLeasesReclaimed counts reclaimed dispatch leases.
func AddLeasesReclaimed(n int) {
	leasesReclaimed.Add(float64(n))
}

// RecordCallback counts one callback attempt
// ("delivered", "rejected" or "error").
func RecordCallback(outcome string) {
	callbacksTotal.WithLabelValues(outcome).Inc()
}

// RecordIdempotencyHit counts an idempotent replay.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection counts a rate-limited request.
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
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
