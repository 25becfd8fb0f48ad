package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection pipeline metrics
var (
	// Parser metrics
	RowsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ns_rows_parsed_total",
			Help: "Total number of rows turned into packet records",
		},
	)

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ns_rows_skipped_total",
			Help: "Total number of malformed rows skipped under lenient parsing",
		},
		[]string{"source"},
	)

	// Detector metrics
	RuleHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ns_rule_hits_total",
			Help: "Total number of records each rule fired on",
		},
		[]string{"rule"},
	)

	MLFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ns_ml_flagged_total",
			Help: "Total number of records flagged by the outlier detector",
		},
	)

	DetectorDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ns_detector_degraded_total",
			Help: "Number of scoring runs that fell back to rule-only results",
		},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ns_pipeline_duration_seconds",
			Help:    "Duration of a full parse, classify and score run",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	// Cache metrics
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ns_cache_requests_total",
			Help: "Result cache lookups by outcome",
		},
		[]string{"result"}, // hit, miss, stale
	)

	CacheRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ns_cache_recomputes_total",
			Help: "Number of pipeline recomputations performed by the result cache",
		},
	)

	// Alert metrics
	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ns_alerts_dispatched_total",
			Help: "Alerts handed to sinks, by alert type",
		},
		[]string{"type"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ns_sink_errors_total",
			Help: "Failed sink writes, by sink",
		},
		[]string{"sink"},
	)
)
