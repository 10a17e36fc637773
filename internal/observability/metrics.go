package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline and the compactor.
type Metrics struct {
	IngestRequests *prometheus.CounterVec // label: status
	IngestDuration prometheus.Histogram

	RowsNormalized prometheus.Counter
	RowsRejected   *prometheus.CounterVec // label: reason
	ValuesCoerced  prometheus.Counter
	ChunksRejected prometheus.Counter

	OpenAccumulators   prometheus.Gauge
	AccumulatorFlushes *prometheus.CounterVec // label: trigger={rows,bytes,final}

	ArtifactsWritten *prometheus.CounterVec // label: outcome={created,deduplicated}
	ArtifactBytes    prometheus.Histogram
	ArtifactRows     prometheus.Histogram
	StorageRetries   prometheus.Counter

	CompactionCycles   *prometheus.CounterVec // label: outcome={merged,conflict,error}
	CompactionDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.IngestRequests,
		m.IngestDuration,
		m.RowsNormalized,
		m.RowsRejected,
		m.ValuesCoerced,
		m.ChunksRejected,
		m.OpenAccumulators,
		m.AccumulatorFlushes,
		m.ArtifactsWritten,
		m.ArtifactBytes,
		m.ArtifactRows,
		m.StorageRetries,
		m.CompactionCycles,
		m.CompactionDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IngestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "requests_total",
			Help:      "Ingestion requests by terminal status.",
		}, []string{"status"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rainfall_ingest",
			Name:      "request_duration_seconds",
			Help:      "Duration of a complete ingestion request.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		RowsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "rows_normalized_total",
			Help:      "Rows that passed validation and entered the partitioner.",
		}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "rows_rejected_total",
			Help:      "Rows dropped during normalization, by reason.",
		}, []string{"reason"}),
		ValuesCoerced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "values_coerced_total",
			Help:      "Numeric values that failed to parse and were zero-filled.",
		}),
		ChunksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "chunks_rejected_total",
			Help:      "Chunks rejected wholesale for schema drift.",
		}),
		OpenAccumulators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rainfall_ingest",
			Name:      "open_accumulators",
			Help:      "Partition accumulators currently holding rows.",
		}),
		AccumulatorFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "accumulator_flushes_total",
			Help:      "Accumulator flushes by trigger (rows, bytes, final).",
		}, []string{"trigger"}),
		ArtifactsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "artifacts_total",
			Help:      "Artifacts produced, by outcome (created, deduplicated).",
		}, []string{"outcome"}),
		ArtifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rainfall_ingest",
			Name:      "artifact_bytes",
			Help:      "Compressed size of written artifacts.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		ArtifactRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rainfall_ingest",
			Name:      "artifact_rows",
			Help:      "Row count of written artifacts.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 10),
		}),
		StorageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "storage_retries_total",
			Help:      "Storage operations retried after a transient failure.",
		}),
		CompactionCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rainfall_ingest",
			Name:      "compaction_cycles_total",
			Help:      "Per-partition compaction cycles by outcome (merged, conflict, error).",
		}, []string{"outcome"}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rainfall_ingest",
			Name:      "compaction_duration_seconds",
			Help:      "Duration of one partition merge.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}
