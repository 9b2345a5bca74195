/*
Package filesystem wraps the os calls used by the local storage backend with
retry logic for NFS stale file handle errors.

Only ESTALE triggers a retry; every other error is returned immediately.
Retries back off exponentially from InitialBackoff up to MaxBackoff:

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Each operation records duration, stale-handle and retry outcome metrics
labelled with the operation and RetryConfig.Volume.
*/
package filesystem
