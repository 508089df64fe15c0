// Package metrics provides Prometheus instrumentation for wasmproof.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled bool

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Pipeline metrics
	verificationTotal *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec

	// Ledger metrics
	ledgerRefreshTotal *prometheus.CounterVec
	ledgerEntries      prometheus.Gauge
)

// Init initializes the metrics system.
func Init(enabledFlag bool) {
	enabled = enabledFlag

	if !enabled {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_request_total",
			Help: "Total number of verification pipeline runs",
		},
		[]string{"result"},
	)

	// Builds run for minutes, not milliseconds
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"stage"},
	)

	ledgerRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_refresh_total",
			Help: "Total number of ledger snapshot refreshes",
		},
		[]string{"status"},
	)

	ledgerEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_snapshot_entries",
			Help: "Number of entries in the current ledger snapshot",
		},
	)
}

// RecordVerification counts one pipeline run by result
// (verified, unverified, or the failure reason).
func RecordVerification(result string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(result).Inc()
}

// ObserveStage records a pipeline stage duration.
func ObserveStage(stage string, seconds float64) {
	if !enabled {
		return
	}
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordLedgerRefresh counts a snapshot refresh attempt.
func RecordLedgerRefresh(status string) {
	if !enabled {
		return
	}
	ledgerRefreshTotal.WithLabelValues(status).Inc()
}

// SetLedgerEntries reports the current snapshot size.
func SetLedgerEntries(n int) {
	if !enabled {
		return
	}
	ledgerEntries.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}
