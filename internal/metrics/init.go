package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every metric is exported from the first Prometheus scrape.
func InitializeMetrics(storageBackend, dispatchMode string) {
	for _, op := range []string{"put", "exists", "delete", "open", "signed_url"} {
		for _, status := range []string{"success", "error"} {
			StorageOperationsTotal.WithLabelValues(storageBackend, op, status)
		}
		StorageOperationDuration.WithLabelValues(storageBackend, op)
	}
	StorageBytesWritten.WithLabelValues(storageBackend)

	for _, kind := range []string{"image", "video"} {
		for _, result := range []string{"success", "storage_error", "registry_error", "too_large", "empty"} {
			UploadsTotal.WithLabelValues(kind, result)
		}
		for _, result := range []string{"ready", "error", "asset_missing", "skipped"} {
			ProcessingTotal.WithLabelValues(kind, result)
		}
		ProcessingDuration.WithLabelValues(kind)
		for _, status := range []string{"processing", "ready", "error"} {
			MediaItemsTotal.WithLabelValues(kind, status)
		}
	}
	UploadsTotal.WithLabelValues("other", "invalid_kind")

	for _, result := range []string{"success", "error"} {
		DispatchTotal.WithLabelValues(dispatchMode, result)
		VideoFrameTotal.WithLabelValues(result)
		MediaDeletesTotal.WithLabelValues(result)
	}

	for _, decoder := range []string{"imaging", "vips", "ffmpeg"} {
		ImageDecodeTotal.WithLabelValues(decoder, "success")
		ImageDecodeTotal.WithLabelValues(decoder, "error")
	}

	for _, result := range []string{"success", "failure"} {
		AuthAttemptsTotal.WithLabelValues(result)
	}

	for _, op := range []string{"stat", "open", "remove", "rename"} {
		FilesystemRetryAttempts.WithLabelValues(op, "storage")
		FilesystemRetrySuccess.WithLabelValues(op, "storage")
		FilesystemRetryFailures.WithLabelValues(op, "storage")
		FilesystemStaleErrors.WithLabelValues(op, "storage")
	}
}
