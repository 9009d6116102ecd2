// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mzansigig",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mzansigig",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// WebhookEventsTotal counts provider webhook events by kind and result.
	// Result is one of: applied, duplicate, unknown_state, rejected, error.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mzansigig",
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by event kind and processing result.",
		},
		[]string{"event", "result"},
	)

	// ReferenceFallbackTotal counts webhooks resolved via the raw
	// correlation reference because no PaymentIntent row matched.
	ReferenceFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mzansigig",
		Name:      "payments_reference_fallback_total",
		Help:      "Webhooks correlated by raw reference instead of a payment intent.",
	})

	// UnreversedCancellationsTotal counts cancellations received after
	// funding, where pending balances are left in place for manual review.
	UnreversedCancellationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mzansigig",
		Name:      "payments_unreversed_cancellations_total",
		Help:      "Post-funding cancellations with no automatic balance reversal.",
	})

	// BalanceVerifyMismatchTotal counts post-write balance verification
	// mismatches (possible lost update or concurrent writer).
	BalanceVerifyMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mzansigig",
			Name:      "balance_verify_mismatch_total",
			Help:      "Balance read-back verification mismatches by field.",
		},
		[]string{"field"},
	)

	// ApplicationsTotal counts application state transitions by outcome.
	ApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mzansigig",
			Name:      "applications_total",
			Help:      "Application transitions by outcome (applied, accepted, rejected, withdrawn, funded, completed).",
		},
		[]string{"outcome"},
	)

	// GigsFundedTotal counts gigs that reached escrow funding.
	GigsFundedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mzansigig",
		Name:      "gigs_funded_total",
		Help:      "Gigs moved to in-progress by a funding event.",
	})

	// SettlementsTotal counts successful settlements by trigger
	// (employer_approval, auto_release, provider_webhook).
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mzansigig",
			Name:      "settlements_total",
			Help:      "Escrow settlements by trigger.",
		},
		[]string{"trigger"},
	)

	// AutoReleaseSweepDuration observes how long the auto-release sweep takes.
	AutoReleaseSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mzansigig",
		Name:      "auto_release_sweep_duration_seconds",
		Help:      "Duration of the completion auto-release sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// ActiveWebSocketClients tracks connected event-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mzansigig",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mzansigig", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mzansigig", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mzansigig", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mzansigig", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		WebhookEventsTotal,
		ReferenceFallbackTotal,
		UnreversedCancellationsTotal,
		BalanceVerifyMismatchTotal,
		ApplicationsTotal,
		GigsFundedTotal,
		SettlementsTotal,
		AutoReleaseSweepDuration,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
