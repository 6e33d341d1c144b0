// Package metrics defines Prometheus instrumentation for the indexing
// pipeline. All collectors are registered with the default registry via
// promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner metrics
var (
	ScanRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_scan_runs_total",
			Help: "Total number of tree scans started",
		},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photoatlas_scan_duration_seconds",
			Help:    "Duration of tree scans in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	ScanDirectoriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_scan_directories_total",
			Help: "Total number of directories listed during scans",
		},
	)

	ScanDirectoriesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_scan_directories_skipped_total",
			Help: "Directories skipped because the change cache reported them unchanged",
		},
	)

	ScanDirectoryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_scan_directory_errors_total",
			Help: "Directories that could not be listed (permissions, vanished)",
		},
	)

	ScanParallelWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photoatlas_scan_parallel_workers",
			Help: "Number of workers used by the parallel scanner",
		},
	)
)

// Extraction metrics
var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoatlas_extractions_total",
			Help: "Per-file metadata extractions by outcome",
		},
		[]string{"outcome"}, // full, no_gps, fingerprint_only, unreadable
	)

	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photoatlas_extraction_duration_seconds",
			Help:    "Duration of per-file metadata extraction",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	GPSStrategyHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoatlas_gps_strategy_hits_total",
			Help: "Successful geolocation decodes by strategy",
		},
		[]string{"strategy"},
	)
)

// Store metrics
var (
	StoreReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_store_reconnects_total",
			Help: "Store reconnections triggered by transient errors",
		},
	)

	StoreRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_store_retries_total",
			Help: "Store operations retried after transient errors",
		},
	)

	StoreTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photoatlas_store_transaction_duration_seconds",
			Help:    "Duration of store transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"}, // commit, rollback
	)
)

// Writer metrics
var (
	BatchesCommittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_batches_committed_total",
			Help: "Batches committed to the store",
		},
	)

	BatchRowFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_batch_row_fallbacks_total",
			Help: "Batches that fell back to row-by-row inserts",
		},
	)

	RecordsInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_records_inserted_total",
			Help: "Index records inserted",
		},
	)

	RecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoatlas_records_skipped_total",
			Help: "Records skipped before or during commit",
		},
		[]string{"reason"}, // duplicate, no_gps, constraint, error
	)
)

// Pipeline metrics
var (
	PipelineRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_pipeline_runs_total",
			Help: "Pipeline runs started",
		},
	)

	PipelineRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photoatlas_pipeline_running",
			Help: "Whether a pipeline run is in progress (1 or 0)",
		},
	)

	PipelineLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photoatlas_pipeline_last_run_timestamp",
			Help: "Unix timestamp of the last completed run",
		},
	)

	PipelineLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photoatlas_pipeline_last_run_duration_seconds",
			Help: "Duration of the last completed run",
		},
	)

	CheckpointSavesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoatlas_checkpoint_saves_total",
			Help: "Checkpoint files written",
		},
	)

	FilesystemRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoatlas_filesystem_retries_total",
			Help: "Filesystem operations retried on stale NFS handles",
		},
		[]string{"operation"},
	)
)
