// Package metrics declares the Prometheus collectors exported by revloop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "revloop"

var (
	// AnalyzerRuns counts analyzer invocations.
	// Labels: category, outcome (ok, failed, timeout, panic)
	AnalyzerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "runs_total",
		Help:      "Analyzer invocations by category and outcome",
	}, []string{"category", "outcome"})

	// AnalyzerDuration measures analyzer wall time.
	AnalyzerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "duration_seconds",
		Help:      "Analyzer wall time in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"category"})

	// OracleCalls counts oracle calls.
	// Labels: kind (score, patch), provider, result (ok, transient, malformed, unavailable, cancelled)
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "calls_total",
		Help:      "Oracle calls by kind, provider and result",
	}, []string{"kind", "provider", "result"})

	// OracleRetries counts retried oracle attempts.
	OracleRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "retries_total",
		Help:      "Retried oracle attempts by kind and provider",
	}, []string{"kind", "provider"})

	// OracleLatency measures oracle call latency including retries.
	OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "oracle",
		Name:      "latency_seconds",
		Help:      "Oracle call latency in seconds",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"kind", "provider"})

	// RefineIterations observes the number of patch cycles per finalized session.
	RefineIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "refine",
		Name:      "iterations",
		Help:      "Patch cycles per finalized session",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 10},
	})

	// TrendAppends counts trend store appends.
	// Labels: backend, result (ok, error)
	TrendAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trend",
		Name:      "appends_total",
		Help:      "Trend store appends by backend and result",
	}, []string{"backend", "result"})

	// ReviewRuns counts review runs.
	// Labels: outcome (passed, below_threshold, aborted, no_evaluation, cancelled, error)
	ReviewRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "review",
		Name:      "runs_total",
		Help:      "Review runs by outcome",
	}, []string{"outcome"})

	// ReviewScore observes final overall scores.
	ReviewScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "review",
		Name:      "overall_score",
		Help:      "Final overall score per review run",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	})
)

// ObserveAnalyzer records one analyzer invocation.
func ObserveAnalyzer(category, outcome string, d time.Duration) {
	AnalyzerRuns.WithLabelValues(category, outcome).Inc()
	AnalyzerDuration.WithLabelValues(category).Observe(d.Seconds())
}

// ObserveOracle records one logical oracle call.
func ObserveOracle(kind, provider, result string, d time.Duration) {
	OracleCalls.WithLabelValues(kind, provider, result).Inc()
	OracleLatency.WithLabelValues(kind, provider).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
