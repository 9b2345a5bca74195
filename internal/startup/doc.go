// Package startup handles configuration loading and the startup/shutdown
// logging shared by the gallery binaries.
//
// # Configuration
//
// [Parse] loads an optional .env file and then reads the environment into a
// [Config] using struct tags. [LoadConfig] additionally prints the banner,
// logs every setting and prepares the database, scratch and local storage
// directories. The resulting Config is passed to constructors explicitly;
// [Config.StorageConfig] and [Config.DispatchConfig] derive the backend and
// dispatch selections made once at startup.
//
// Commonly set variables:
//
//   - PORT, METRICS_PORT, METRICS_ENABLED
//   - DATABASE_DIR, SCRATCH_DIR
//   - STORAGE_BACKEND (local or s3), LOCAL_STORAGE_DIR, GALLERY_ROOT
//   - S3_BUCKET, S3_REGION, S3_ENDPOINT, S3_USE_PATH_STYLE, SIGNED_URL_TTL
//   - DISPATCH_MODE (inline or nats), NATS_URL, NATS_STREAM, NATS_SUBJECT
//   - PROCESS_WORKERS, MAX_UPLOAD_BYTES, FFMPEG_PATH
//   - LOG_LEVEL, LOG_FORMAT, LOG_STATIC_FILES, LOG_HEALTH_CHECKS
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT
//
// # Build Information
//
// Version, Commit and BuildTime are injected via ldflags and exposed through
// [GetBuildInfo].
package startup
