// Package metrics provides Prometheus instrumentation for the staking service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts pool operations, partitioned by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_operations_total",
		Help: "Total number of pool operations attempted",
	}, []string{"kind", "outcome"})

	// OperationLatency tracks operation execution time including settlement.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staking_operation_latency_seconds",
		Help:    "Pool operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// Rejections counts operations refused by the pool, by error code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_rejections_total",
		Help: "Pool operations rejected, by error code",
	}, []string{"code"})

	// ActivePools tracks the number of pools that are not yet swept.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_active_pools",
		Help: "Number of pools not yet swept",
	})

	// StakedVolume tracks cumulative staked units actually received, per asset.
	StakedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_staked_volume_total",
		Help: "Cumulative units staked (post transfer fee)",
	}, []string{"asset"})

	// RewardPaid tracks cumulative reward paid out, per asset.
	RewardPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_reward_paid_total",
		Help: "Cumulative reward units paid to stakers",
	}, []string{"asset"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staking_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
