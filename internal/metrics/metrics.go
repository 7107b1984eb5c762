// Package metrics provides Prometheus instrumentation for the lattice
// market-making engine, adapted from the teacher's metrics package: same
// promauto-declared collectors and HTTP middleware shape, new domain.
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
	// QuotesIssuedTotal counts every non-sentinel quote make_market built.
	QuotesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_mm_quotes_issued_total",
		Help: "Total number of non-sentinel quotes issued",
	})

	// SentinelQuotesTotal counts do-not-trade quotes, partitioned by cause.
	SentinelQuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_mm_sentinel_quotes_total",
		Help: "Total number of sentinel quotes issued",
	}, []string{"cause"}) // "safe_mode" or "missing_underlying"

	// TradesBookedTotal counts option trades booked via on_bid_hit/on_offer_hit.
	TradesBookedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_mm_trades_booked_total",
		Help: "Total number of option trades booked",
	}, []string{"side"}) // "bid" or "offer"

	// HedgesPlacedTotal counts underlying trades placed through the
	// registered trade callback, whichever path (post-trade hedge, per-step
	// rehedge, or a direct buy/sell) triggered them — cmd/server wraps the
	// callback once, so individual paths are not separately labeled here,
	// matching the decision to keep the pure core free of a metrics
	// dependency (see DESIGN.md, Ambient stack notes).
	HedgesPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_mm_hedges_placed_total",
		Help: "Total number of underlying trades placed via the trade callback",
	})

	// GammaScalpTotal counts underlyings run through on_step_advance's
	// per-step rehedge pass (one per underlying per step), an upper bound
	// on how many clear GAMMA_SCALP_TH and actually get reconsidered.
	GammaScalpTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_mm_gamma_scalp_considered_total",
		Help: "Total number of underlyings advanced through the per-step rehedge pass",
	})

	// CacheSize is sampled by cmd/server from Engine's observable
	// cache size rather than from an internal hit/miss counter, keeping
	// the price cache free of a metrics dependency.
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_mm_price_cache_entries",
		Help: "Number of memoized (option, underlying-price) entries in the price cache",
	})

	// SafeModeEngaged is 1 while the risk supervisor suppresses quoting,
	// 0 otherwise.
	SafeModeEngaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_mm_safe_mode_engaged",
		Help: "1 if the risk supervisor currently suppresses quoting, 0 otherwise",
	})

	// StreamClients tracks connected WebSocket dashboard clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_mm_stream_clients",
		Help: "Number of connected WebSocket stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_mm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_mm_http_request_duration_seconds",
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
