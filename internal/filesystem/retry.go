package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"family-gallery/internal/logging"
	"family-gallery/internal/metrics"
)

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Volume labels the metrics recorded for operations under this config.
	Volume string
}

// DefaultRetryConfig returns sensible defaults for NFS retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Volume:         "storage",
	}
}

// isNFSStaleError checks if an error is an NFS stale file handle error
func isNFSStaleError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}
	return false
}

// withRetry runs fn until it succeeds, fails with something other than
// ESTALE, or the retry budget is exhausted.
func withRetry[T any](op, path string, config RetryConfig, fn func() (T, error)) (T, error) {
	start := time.Now()
	backoff := config.InitialBackoff
	defer func() {
		metrics.FilesystemRetryDuration.WithLabelValues(op, config.Volume).Observe(time.Since(start).Seconds())
	}()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		v, err := fn()
		if err == nil {
			if attempt > 0 {
				logging.Info("NFS %s succeeded on retry %d for %s", op, attempt, path)
				metrics.FilesystemRetrySuccess.WithLabelValues(op, config.Volume).Inc()
			}
			return v, nil
		}

		lastErr = err
		if !isNFSStaleError(err) {
			return zero, err
		}
		metrics.FilesystemStaleErrors.WithLabelValues(op, config.Volume).Inc()

		if attempt < config.MaxRetries {
			metrics.FilesystemRetryAttempts.WithLabelValues(op, config.Volume).Inc()
			logging.Debug("NFS %s stale file handle for %s, retrying in %v (attempt %d/%d)",
				op, path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("NFS %s failed after %d retries for %s: %v", op, config.MaxRetries, path, lastErr)
	metrics.FilesystemRetryFailures.WithLabelValues(op, config.Volume).Inc()
	return zero, lastErr
}

// StatWithRetry performs os.Stat with retry logic for NFS stale file handle errors
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	return withRetry("stat", path, config, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

// OpenWithRetry performs os.Open with retry logic for NFS stale file handle errors
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	return withRetry("open", path, config, func() (*os.File, error) {
		return os.Open(path)
	})
}

// RemoveWithRetry removes a file, treating a missing file as success.
func RemoveWithRetry(path string, config RetryConfig) error {
	_, err := withRetry("remove", path, config, func() (struct{}, error) {
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// RenameWithRetry performs os.Rename with retry logic for NFS stale file handle errors
func RenameWithRetry(oldPath, newPath string, config RetryConfig) error {
	_, err := withRetry("rename", newPath, config, func() (struct{}, error) {
		return struct{}{}, os.Rename(oldPath, newPath)
	})
	return err
}
