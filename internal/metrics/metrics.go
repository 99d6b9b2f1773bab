// Package metrics provides Prometheus instrumentation for the holdings engine.
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
	// RefreshPasses counts refresh passes by outcome (committed, unchanged, aborted, dropped).
	RefreshPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holdings_refresh_passes_total",
		Help: "Price refresh passes by outcome",
	}, []string{"outcome"})

	// RefreshDuration tracks wall time of a full pass including pacing delays.
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "holdings_refresh_pass_duration_seconds",
		Help:    "Duration of a price refresh pass in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	// PriceFetches counts individual upstream price lookups.
	PriceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holdings_price_fetches_total",
		Help: "Upstream price fetches by result",
	}, []string{"result"})

	// PriceUpdates counts committed price changes.
	PriceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holdings_price_updates_total",
		Help: "Holding prices changed by refresh passes",
	})

	FXRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "holdings_fx_usd_krw",
		Help: "Current USD/KRW rate in use",
	})

	FXRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holdings_fx_refreshes_total",
		Help: "FX refresh attempts by result",
	}, []string{"result"})

	// ActiveSchedulers tracks portfolios with a running refresh scheduler.
	ActiveSchedulers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "holdings_active_schedulers",
		Help: "Number of running price refresh schedulers",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "holdings_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "holdings_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "holdings_http_request_duration_seconds",
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

		// Label by route pattern, not raw path, to keep portfolio and
		// ticker IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
