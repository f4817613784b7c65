package middleware

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay-backend/internal/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	relayOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_outcomes_total",
			Help: "Relay invocations by route and terminal outcome",
		},
		[]string{"route", "outcome"},
	)

	relayDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_relay_duration_seconds",
			Help:    "Time from decoded request to decided response, upstream call included",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"route"},
	)

	tokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_token_usage_total",
			Help: "Tokens reported by the upstream",
		},
		[]string{"route", "type"}, // type: prompt or completion
	)

	metricsRegistered atomic.Bool
)

// RegisterMetrics registers all collectors with the default registry.
// It is safe to call multiple times.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		relayOutcomesTotal,
		relayDurationSeconds,
		tokenUsage,
	)
}

// Metrics records request count and latency labelled by the chi route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if r.Method == http.MethodOptions {
		return "preflight"
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRelayOutcome counts one finished relay invocation.
func RecordRelayOutcome(route string, outcome models.Outcome, elapsed time.Duration) {
	relayOutcomesTotal.WithLabelValues(route, string(outcome)).Inc()
	relayDurationSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordTokenUsage adds upstream-reported token counts.
func RecordTokenUsage(route string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		tokenUsage.WithLabelValues(route, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		tokenUsage.WithLabelValues(route, "completion").Add(float64(completionTokens))
	}
}
