// Package metrics provides Prometheus instrumentation for the forensic engine.
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
			Namespace: "altflex",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "altflex",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalysesTotal counts completed transaction analyses by classification.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "altflex",
			Name:      "analyses_total",
			Help:      "Total transaction analyses by resulting classification.",
		},
		[]string{"classification"},
	)

	// AnalysisDuration observes end-to-end analysis latency.
	AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "altflex",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end transaction analysis duration in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// RulesTriggeredTotal counts rule hits by rule ID.
	RulesTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "altflex",
			Name:      "rules_triggered_total",
			Help:      "Total detection rule hits by rule ID.",
		},
		[]string{"rule"},
	)

	// DegradedAnalysesTotal counts analyses completed without the ML signal.
	DegradedAnalysesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "altflex",
		Name:      "degraded_analyses_total",
		Help:      "Total analyses completed with the anomaly scorer unavailable.",
	})

	// VerificationsTotal counts address verifications by terminal stage outcome.
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "altflex",
			Name:      "address_verifications_total",
			Help:      "Total address verifications by outcome (verified, rejected, degraded).",
		},
		[]string{"outcome"},
	)

	// AuditEntriesTotal counts entries appended to the audit ledger by event kind.
	AuditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "altflex",
			Name:      "audit_entries_total",
			Help:      "Total audit ledger entries appended by event kind.",
		},
		[]string{"kind"},
	)

	// AuditViolationsTotal counts integrity violations found by ledger verification.
	AuditViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "altflex",
			Name:      "audit_violations_total",
			Help:      "Total audit chain violations detected by type.",
		},
		[]string{"type"},
	)

	// CustodyEventsTotal counts custody events by action.
	CustodyEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "altflex",
			Name:      "custody_events_total",
			Help:      "Total chain-of-custody events recorded by action.",
		},
		[]string{"action"},
	)

	// CustodyRejectionsTotal counts custody events rejected for bad actor signatures.
	CustodyRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "altflex",
		Name:      "custody_rejections_total",
		Help:      "Total custody events rejected due to actor signature failures.",
	})

	// ActiveAlertClients tracks connected WebSocket alert subscribers.
	ActiveAlertClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "altflex",
			Name:      "active_alert_clients",
			Help:      "Number of currently connected alert stream clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "altflex", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "altflex", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "altflex", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "altflex", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalysesTotal,
		AnalysisDuration,
		RulesTriggeredTotal,
		DegradedAnalysesTotal,
		VerificationsTotal,
		AuditEntriesTotal,
		AuditViolationsTotal,
		CustodyEventsTotal,
		CustodyRejectionsTotal,
		ActiveAlertClients,
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
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
