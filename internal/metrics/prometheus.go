package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus metrics of one run. Every run gets its own
// registry so repeated runs in one process never collide.
type Metrics struct {
	Registry *prometheus.Registry

	// Scan phase metrics
	ChunksScannedTotal prometheus.Counter
	ChunksSkippedTotal prometheus.Counter
	InputBytesTotal    prometheus.Counter
	TokensRoutedTotal  prometheus.Counter
	PartitionStoreSize prometheus.Histogram

	// Compaction metrics
	PartitionsCompactedTotal prometheus.Counter
	CompactionDuration       prometheus.Histogram
	CompactionBytesProcessed prometheus.Counter
	CompactionBytesWritten   prometheus.Counter

	// Merge metrics
	DistinctTokensTotal      prometheus.Counter
	DuplicatesCollapsedTotal prometheus.Counter
	OutputBytesTotal         prometheus.Counter

	// Run metrics
	PhaseDuration         *prometheus.HistogramVec
	CleanupFailuresTotal  prometheus.Counter
	WorkDirAvailableBytes prometheus.Gauge
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics(runID string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}

	return &Metrics{
		Registry: reg,

		ChunksScannedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "scan",
			Name:        "chunks_total",
			Help:        "Total number of chunks scanned",
			ConstLabels: labels,
		}),
		ChunksSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "scan",
			Name:        "skipped_units_total",
			Help:        "Total number of chunks or files skipped after a failure",
			ConstLabels: labels,
		}),
		InputBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "scan",
			Name:        "input_bytes_total",
			Help:        "Total input bytes read by the scan phase",
			ConstLabels: labels,
		}),
		TokensRoutedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "scan",
			Name:        "tokens_routed_total",
			Help:        "Total number of tokens routed to partitions",
			ConstLabels: labels,
		}),

		PartitionStoreSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "tokensort",
			Subsystem:   "scan",
			Name:        "partition_store_bytes",
			Help:        "Histogram of sealed partition append store sizes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(4096, 4, 12), // 4KiB to ~16GiB
		}),

		PartitionsCompactedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "compaction",
			Name:        "partitions_total",
			Help:        "Total number of partitions compacted",
			ConstLabels: labels,
		}),
		CompactionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "tokensort",
			Subsystem:   "compaction",
			Name:        "partition_duration_seconds",
			Help:        "Histogram of per-partition compaction durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}),
		CompactionBytesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "compaction",
			Name:        "bytes_processed_total",
			Help:        "Total append store bytes read during compaction",
			ConstLabels: labels,
		}),
		CompactionBytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "compaction",
			Name:        "bytes_written_total",
			Help:        "Total sorted record bytes written during compaction",
			ConstLabels: labels,
		}),

		DistinctTokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "merge",
			Name:        "distinct_tokens_total",
			Help:        "Total number of distinct tokens written to the output",
			ConstLabels: labels,
		}),
		DuplicatesCollapsedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "merge",
			Name:        "duplicates_collapsed_total",
			Help:        "Total number of cross-partition duplicates collapsed by the merge",
			ConstLabels: labels,
		}),
		OutputBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "merge",
			Name:        "output_bytes_total",
			Help:        "Total bytes written to the output file",
			ConstLabels: labels,
		}),

		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "tokensort",
			Subsystem:   "run",
			Name:        "phase_duration_seconds",
			Help:        "Histogram of pipeline phase durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"phase"}),
		CleanupFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "tokensort",
			Subsystem:   "run",
			Name:        "cleanup_failures_total",
			Help:        "Total number of intermediate files that could not be removed",
			ConstLabels: labels,
		}),
		WorkDirAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "tokensort",
			Subsystem:   "run",
			Name:        "workdir_available_bytes",
			Help:        "Available bytes on the work directory filesystem",
			ConstLabels: labels,
		}),
	}
}

// ObservePhase records the duration of a pipeline phase
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Push sends every metric of the registry to a Prometheus pushgateway
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).
		Gatherer(m.Registry).
		PushContext(ctx)
}
