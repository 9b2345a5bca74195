// Package metrics provides Prometheus instrumentation for the gallery.
//
// Metrics are registered with promauto at package init and prefixed with
// "gallery_". They cover HTTP traffic, SQLite queries, storage backend calls,
// NFS retries, ingestion outcomes, task dispatch, processing outcomes and
// durations, library gauges, authentication and memory pressure.
//
// [Collector] refreshes the library gauges from a [StatsProvider] (the media
// registry) on an interval, and [InitializeMetrics] pre-populates label
// combinations so that series exist from the first scrape.
package metrics
