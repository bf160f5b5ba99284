// Package metrics provides Prometheus instrumentation for the copier.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Order results.
const (
	ResultPlaced  = "placed"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
	ResultOK      = "ok"
)

var (
	// OrdersTotal counts follower orders by exchange and outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copier_orders_total",
		Help: "Follower orders by outcome",
	}, []string{"exchange", "result"})

	// DispatchDuration tracks how long one fill takes to fan out to every follower.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "copier_dispatch_duration_seconds",
		Help:    "Fill dispatch duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	FillEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copier_fill_events_total",
		Help: "Leader fills emitted by the watcher",
	}, []string{"side"})

	StreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "copier_stream_reconnects_total",
		Help: "Leader stream sessions torn down",
	})

	BalanceRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copier_balance_refresh_total",
		Help: "Balance refreshes by outcome",
	}, []string{"result"})

	// BalanceStale is 1 while an account's cached balance is stale.
	BalanceStale = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "copier_balance_stale",
		Help: "Whether the cached balance of an account is stale",
	}, []string{"account"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copier_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})
)

// ObserveDispatch records the duration since start.
func ObserveDispatch(start time.Time) {
	DispatchDuration.Observe(time.Since(start).Seconds())
}

// SetStale updates the staleness gauge for account.
func SetStale(account string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	BalanceStale.WithLabelValues(account).Set(v)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts. routePattern maps a request to a low
// cardinality path label; nil uses the raw path.
func Middleware(routePattern func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if routePattern != nil {
				if p := routePattern(r); p != "" {
					path = p
				}
			}
			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
