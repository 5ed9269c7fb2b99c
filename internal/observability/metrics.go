// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// RPC metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCalls       *prometheus.CounterVec

	// Pricing metrics
	FeeTierHits      *prometheus.CounterVec
	PriceResolutions *prometheus.CounterVec

	// Book metrics
	SyntheticRegenerations prometheus.Counter
	BookLevels             *prometheus.GaugeVec

	// Composer metrics
	ComposeDuration prometheus.Histogram
	ComposeResults  *prometheus.CounterVec
	BranchFailures  *prometheus.CounterVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Stream metrics
	StreamSubscribers prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "market_state"
	}

	return &Metrics{
		// RPC metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Contract read latency in seconds by endpoint",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total contract reads by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),

		// Pricing metrics
		FeeTierHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "fee_tier_hits_total",
			Help:      "Number of mid prices resolved per AMM fee tier",
		}, []string{"fee_tier"}),
		PriceResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "resolutions_total",
			Help:      "Mid price resolutions by outcome",
		}, []string{"outcome"}),

		// Book metrics
		SyntheticRegenerations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "synthetic_regenerations_total",
			Help:      "Total number of synthetic ladders generated",
		}),
		BookLevels: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "levels",
			Help:      "Number of levels in the last composed book by pair and side",
		}, []string{"pair", "side"}),

		// Composer metrics
		ComposeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "composer",
			Name:      "compose_duration_seconds",
			Help:      "Market state composition latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ComposeResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "composer",
			Name:      "results_total",
			Help:      "Composed market states by source",
		}, []string{"source"}),
		BranchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "composer",
			Name:      "branch_failures_total",
			Help:      "Composition branches degraded to their neutral default",
		}, []string{"branch"}),

		// Cache metrics
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache name and result",
		}, []string{"cache", "result"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Number of connected market state stream subscribers",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCCall records one endpoint attempt. Latency is skipped when zero.
func RecordRPCCall(endpoint, outcome string, seconds float64) {
	DefaultMetrics.RPCCalls.WithLabelValues(endpoint, outcome).Inc()
	if seconds > 0 {
		DefaultMetrics.RPCCallLatency.WithLabelValues(endpoint).Observe(seconds)
	}
}

// RecordFeeTierHit records which fee tier produced a mid price.
func RecordFeeTierHit(feeTier uint32) {
	DefaultMetrics.FeeTierHits.WithLabelValues(strconv.FormatUint(uint64(feeTier), 10)).Inc()
}

// RecordPriceResolution records a mid price resolution outcome.
func RecordPriceResolution(outcome string) {
	DefaultMetrics.PriceResolutions.WithLabelValues(outcome).Inc()
}

// RecordSyntheticRegeneration increments the synthetic ladder counter.
func RecordSyntheticRegeneration() {
	DefaultMetrics.SyntheticRegenerations.Inc()
}

// UpdateBookLevels sets the level gauges for a pair.
func UpdateBookLevels(pair string, bids, asks int) {
	DefaultMetrics.BookLevels.WithLabelValues(pair, "bids").Set(float64(bids))
	DefaultMetrics.BookLevels.WithLabelValues(pair, "asks").Set(float64(asks))
}

// RecordCompose records a composition result.
func RecordCompose(source string, seconds float64) {
	DefaultMetrics.ComposeResults.WithLabelValues(source).Inc()
	DefaultMetrics.ComposeDuration.Observe(seconds)
}

// RecordBranchFailure records a degraded composition branch.
func RecordBranchFailure(branch string) {
	DefaultMetrics.BranchFailures.WithLabelValues(branch).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// StreamSubscriberConnected increments the subscriber gauge.
func StreamSubscriberConnected() {
	DefaultMetrics.StreamSubscribers.Inc()
}

// StreamSubscriberDisconnected decrements the subscriber gauge.
func StreamSubscriberDisconnected() {
	DefaultMetrics.StreamSubscribers.Dec()
}
