// Package metrics provides Prometheus instrumentation for the desk.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts ticks delivered, partitioned by instrument and
	// source (live or simulated).
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxdesk_ticks_total",
		Help: "Total number of ticks delivered",
	}, []string{"symbol", "source"})

	// FeedState exposes the feed state machine's current state.
	FeedState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fxdesk_feed_state",
		Help: "Feed connection state (0=disconnected 1=connecting 2=live 3=reconnecting 4=simulated)",
	})

	// FeedReconnects counts reconnect attempts against the live feed.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fxdesk_feed_reconnects_total",
		Help: "Total reconnect attempts against the live feed",
	})

	// OrdersTotal counts executed orders, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxdesk_orders_total",
		Help: "Total number of orders executed",
	}, []string{"side"})

	// OrderRejections counts orders rejected by validation.
	OrderRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fxdesk_order_rejections_total",
		Help: "Orders rejected by validation",
	})

	// StreamClients tracks connected dashboard WebSocket clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fxdesk_stream_clients",
		Help: "Number of connected stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxdesk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fxdesk_http_request_duration_seconds",
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

		path := r.URL.Path
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

// Hijack forwards to the underlying writer so WebSocket upgrades work
// through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
