// Package metrics provides Prometheus instrumentation for the market engine.
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
	// TradesTotal counts trades, partitioned by side and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradestreet_trades_total",
		Help: "Total number of buy/sell attempts",
	}, []string{"side", "result"})

	// TradeVolume tracks cumulative shares traded per ticker.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradestreet_trade_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"ticker", "side"})

	// PriceTicks counts price-engine evaluations.
	PriceTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradestreet_price_ticks_total",
		Help: "Total ticker price evaluations",
	})

	// TickDuration measures one full market tick across all tickers.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradestreet_tick_duration_seconds",
		Help:    "Duration of a market tick in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	// NewsEvents counts news events accepted into the feed.
	NewsEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradestreet_news_events_total",
		Help: "News events accepted into the feed",
	})

	// GenerationFallbacks counts content-generation failures recovered locally.
	GenerationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradestreet_generation_fallbacks_total",
		Help: "Content-generation failures replaced by fallback data",
	}, []string{"kind"})

	// LeaderboardPublishes counts snapshots published to the leaderboard.
	LeaderboardPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradestreet_leaderboard_publishes_total",
		Help: "Leaderboard snapshots published",
	})

	// LeaderboardEntries tracks how many identities are ranked.
	LeaderboardEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradestreet_leaderboard_entries",
		Help: "Number of ranked identities",
	})

	// LeaderboardSubscribers tracks active leaderboard subscriptions.
	LeaderboardSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradestreet_leaderboard_subscribers",
		Help: "Active leaderboard subscriptions",
	})

	// PersistenceFailures counts repository reads/writes that failed.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradestreet_persistence_failures_total",
		Help: "Repository operations that failed",
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradestreet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradestreet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradestreet_http_request_duration_seconds",
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
	return h.Hijack()
}
