// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	CandlesIngested   *prometheus.CounterVec
	CandlesDropped    *prometheus.CounterVec
	IngestionFailures *prometheus.CounterVec

	// Scheduler metrics
	JobRunsTotal  *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobsSkipped   *prometheus.CounterVec
	PairsFailed   prometheus.Gauge
	PairsDisabled prometheus.Gauge

	// Retention metrics
	CandlesPurged     prometheus.Counter
	PartitionsDropped prometheus.Counter

	// Level detection metrics
	LevelRunsTotal   *prometheus.CounterVec
	LevelRunDuration prometheus.Histogram
	ZonesDetected    *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulEOD       prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "market_data_lab"
	}

	return &Metrics{
		// Ingestion metrics
		CandlesIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "candles_ingested_total",
			Help:      "Total number of candles written by pair",
		}, []string{"symbol", "timeframe"}),
		CandlesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "candles_dropped_total",
			Help:      "Total number of candles rejected by validation",
		}, []string{"symbol", "timeframe"}),
		IngestionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of failed ingestion runs",
		}, []string{"symbol", "timeframe"}),

		// Scheduler metrics
		JobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by kind and status",
		}, []string{"job", "status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		JobsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "jobs_skipped_total",
			Help:      "Total number of job ticks skipped because the previous run was still going",
		}, []string{"job"}),
		PairsFailed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "pairs_failed",
			Help:      "Number of pairs currently in failed state",
		}),
		PairsDisabled: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "pairs_disabled",
			Help:      "Number of pairs disabled after repeated failures",
		}),

		// Retention metrics
		CandlesPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "candles_purged_total",
			Help:      "Total number of candles removed by retention",
		}),
		PartitionsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "partitions_dropped_total",
			Help:      "Total number of partitions dropped by retention",
		}),

		// Level detection metrics
		LevelRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "levels",
			Name:      "runs_total",
			Help:      "Total number of level detection runs by status",
		}, []string{"status"}),
		LevelRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "levels",
			Name:      "run_duration_seconds",
			Help:      "Level detection run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ZonesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "levels",
			Name:      "zones_detected_total",
			Help:      "Total number of zones returned by side",
		}, []string{"side"}),

		// Health metrics
		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
		LastSuccessfulEOD: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_eod_timestamp",
			Help:      "Unix timestamp of last successful end-of-day run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
