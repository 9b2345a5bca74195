package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gallery_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal"
	)
)

// Storage backend metrics
var (
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_storage_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	StorageBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_storage_bytes_written_total",
			Help: "Total bytes written to the storage backend",
		},
		[]string{"backend"},
	)
)

// Filesystem retry metrics (local backend on NFS)
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_filesystem_retry_attempts_total",
			Help: "Retries performed after NFS stale file handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_filesystem_retry_failures_total",
			Help: "Operations that still failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_filesystem_retry_duration_seconds",
			Help:    "Total time spent in filesystem operations including retries",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// Ingestion metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_uploads_total",
			Help: "Total number of upload attempts by outcome",
		},
		[]string{"kind", "result"}, // result: success, invalid_kind, empty, too_large, storage_error, registry_error
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_upload_size_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10),
		},
	)

	UploadKeyCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_upload_key_collisions_total",
			Help: "Storage key collisions resolved with a numeric suffix",
		},
	)
)

// Dispatch metrics
var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_dispatch_total",
			Help: "Processing tasks handed to the dispatcher",
		},
		[]string{"mode", "result"},
	)

	ConsumerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_consumer_messages_total",
			Help: "Queue messages handled by the worker consumer",
		},
		[]string{"result"}, // acked, terminated
	)
)

// Processing metrics
var (
	ProcessingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_processing_total",
			Help: "Processing runs by media kind and outcome",
		},
		[]string{"kind", "result"}, // result: ready, error, asset_missing, skipped, not_found
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_processing_duration_seconds",
			Help:    "Time to process one media item",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	ProcessingInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_processing_in_flight",
			Help: "Media items currently being processed",
		},
	)

	ImageConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_image_conversions_total",
			Help: "Images re-keyed to JPEG by source format",
		},
		[]string{"from"},
	)

	ImageDecodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_image_decode_total",
			Help: "Image decodes by decoder and outcome",
		},
		[]string{"decoder", "result"}, // decoder: imaging, vips, ffmpeg
	)

	VideoFrameTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_video_frame_extractions_total",
			Help: "Video thumbnail frame extractions by outcome",
		},
		[]string{"result"},
	)
)

// Library metrics
var (
	MediaItemsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gallery_media_items",
			Help: "Media items in the registry by kind and status",
		},
		[]string{"kind", "status"},
	)

	MediaBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_media_bytes",
			Help: "Sum of ingested file sizes in bytes",
		},
	)

	FavoritesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_favorites",
			Help: "Total favorites across all users",
		},
	)

	MediaDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_media_deletes_total",
			Help: "Media deletions by outcome",
		},
		[]string{"result"},
	)
)

// Authentication metrics
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_auth_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_active_sessions",
			Help: "Unexpired sessions",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_memory_paused",
			Help: "1 while queue consumption is paused for memory pressure",
		},
	)

	GoMemLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_go_memlimit_bytes",
			Help: "Configured GOMEMLIMIT in bytes (0 when unset)",
		},
	)
)
