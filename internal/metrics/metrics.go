// Package metrics provides Prometheus instrumentation for the basket engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts dispatched operations by name and outcome
	// ("ok" or the failing error kind).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_operations_total",
		Help: "Total number of dispatched operations",
	}, []string{"op", "result"})

	// OperationLatency tracks dispatch latency, commit included.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "basket_operation_latency_seconds",
		Help:    "Operation execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// TotalValueLocked mirrors GlobalConfig.TotalValueLocked after each commit.
	TotalValueLocked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basket_total_value_locked",
		Help: "Global total value locked, in minimal units",
	})

	// BasketValueLocked mirrors each basket's TVL.
	BasketValueLocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "basket_value_locked",
		Help: "Per-basket total value locked, in minimal units",
	}, []string{"basket"})

	// TotalUsers mirrors GlobalConfig.TotalUsers.
	TotalUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basket_total_users",
		Help: "Number of portfolios ever opened",
	})

	// TransfersEmitted counts outbound transfer instructions by kind and purpose.
	TransfersEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_transfers_emitted_total",
		Help: "Transfer instructions emitted for the host",
	}, []string{"kind", "purpose"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// RateLimited counts requests rejected by the API rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basket_http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "basket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by the chi route pattern, so
// /portfolios/{address} is one series rather than one per address.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot be hijacked")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
