// Package main provides the entry point for the Family Gallery server.
//
// Family Gallery is a private photo and video sharing service for a small
// group of signed-in members. Uploads are stored in a pluggable storage
// backend (local disk or an S3-compatible bucket), registered in SQLite and
// processed into web-ready form.
//
// # Application Lifecycle
//
//  1. Memory Configuration: sets GOMEMLIMIT from MEMORY_LIMIT when present
//  2. Configuration Loading: reads the environment (and an optional .env)
//     and prepares the database, scratch and local storage directories
//  3. Database Initialization: opens SQLite in WAL mode and migrates it
//  4. Component Initialization:
//     - Storage backend, wrapped with Prometheus instrumentation
//     - libvips decoder (optional) and the ffmpeg frame extractor
//     - Processing worker and task dispatch (inline or NATS JetStream)
//     - Ingest service, media library and HTTP handlers
//     - Metrics collector and memory monitor
//  5. HTTP Server Setup: request IDs, structured access logs, gzip for JSON
//     responses, route metrics and session authentication
//  6. Graceful Shutdown: handles SIGINT/SIGTERM
//
// # Processing Modes
//
// With DISPATCH_MODE=inline an upload request returns once its items are
// ready or failed. With DISPATCH_MODE=nats the server only publishes a
// request per item and one or more gallery-worker processes do the work.
//
// # HTTP Servers
//
//  1. Main Server (default port 8080): the JSON API under /api and the
//     /healthz, /livez, /readyz and /version probes
//  2. Metrics Server (default port 9090, optional): /metrics and /health
//
// # Graceful Shutdown
//
//  1. Stop accepting new HTTP requests (30s for in-flight requests)
//  2. Cancel remaining request contexts
//  3. Close task dispatch
//  4. Stop the metrics collector and memory monitor
//  5. Shut down the metrics server
//  6. Release libvips and close the database
//
// Items interrupted mid-processing stay in the processing state and can be
// re-dispatched with "galleryctl requeue".
//
// # Build Requirements
//
// CGO is required for SQLite and libvips. FFmpeg must be on PATH (or set via
// FFMPEG_PATH) for video thumbnails.
//
//	go build -o gallery-server ./cmd/gallery-server
//
// # Related Packages
//
//   - [family-gallery/internal/database]: SQLite registry of users, sessions and media
//   - [family-gallery/internal/handlers]: HTTP request handlers and routes
//   - [family-gallery/internal/ingest]: upload validation, naming and storage
//   - [family-gallery/internal/processor]: image conversion and video thumbnails
//   - [family-gallery/internal/dispatch]: inline and NATS task dispatch
//   - [family-gallery/internal/storage]: local and S3 storage backends
//   - [family-gallery/internal/startup]: configuration and startup logging
package main
