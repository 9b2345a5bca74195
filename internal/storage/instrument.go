package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"family-gallery/internal/metrics"
)

// instrumented records operation counts and latency for a Backend.
type instrumented struct {
	Backend
}

// Instrument wraps b so that every call is reflected in the storage metrics.
func Instrument(b Backend) Backend {
	if _, ok := b.(*instrumented); ok {
		return b
	}
	return &instrumented{Backend: b}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrSignedURLUnsupported) {
		status = "error"
	}
	metrics.StorageOperationsTotal.WithLabelValues(i.Name(), op, status).Inc()
	metrics.StorageOperationDuration.WithLabelValues(i.Name(), op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (err error) {
	defer func(start time.Time) {
		i.observe("put", start, err)
		if err == nil {
			metrics.StorageBytesWritten.WithLabelValues(i.Name()).Add(float64(size))
		}
	}(time.Now())
	return i.Backend.Put(ctx, key, r, size, contentType)
}

func (i *instrumented) Exists(ctx context.Context, key string) (ok bool, err error) {
	defer func(start time.Time) { i.observe("exists", start, err) }(time.Now())
	return i.Backend.Exists(ctx, key)
}

func (i *instrumented) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { i.observe("delete", start, err) }(time.Now())
	return i.Backend.Delete(ctx, key)
}

func (i *instrumented) Open(ctx context.Context, key string) (obj *Object, err error) {
	defer func(start time.Time) { i.observe("open", start, err) }(time.Now())
	return i.Backend.Open(ctx, key)
}

func (i *instrumented) SignedURL(ctx context.Context, key string, ttl time.Duration) (url string, err error) {
	defer func(start time.Time) { i.observe("signed_url", start, err) }(time.Now())
	return i.Backend.SignedURL(ctx, key, ttl)
}
