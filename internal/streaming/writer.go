package streaming

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"family-gallery/internal/logging"
)

var (
	// ErrWriteTimeout is returned when a single write to the client takes
	// longer than Config.WriteTimeout.
	ErrWriteTimeout = errors.New("write timeout exceeded")
	// ErrClientGone is returned when the request context ends mid-stream.
	ErrClientGone = errors.New("client disconnected")
	// ErrIdle is returned when no write succeeded for Config.IdleTimeout.
	ErrIdle = errors.New("stream idle timeout exceeded")
)

// Config bounds how long a slow client may hold a stream open.
type Config struct {
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ChunkSize splits large writes and flushes after each chunk; 0 writes
	// as received.
	ChunkSize int
}

// DefaultConfig returns the limits used for media downloads.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// Writer wraps an http.ResponseWriter so that stalled clients are cut off
// instead of pinning the handler. The server runs without a global write
// timeout, so large downloads rely on this.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	cfg     Config
	ctx     context.Context
	cancel  context.CancelCauseFunc

	mu        sync.Mutex
	written   int64
	lastWrite time.Time
	closed    bool
}

// NewWriter starts watching ctx and the idle deadline. Close must be called.
func NewWriter(ctx context.Context, w http.ResponseWriter, cfg Config) *Writer {
	wctx, cancel := context.WithCancelCause(ctx)
	sw := &Writer{
		w:         w,
		cfg:       cfg,
		ctx:       wctx,
		cancel:    cancel,
		lastWrite: time.Now(),
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	if cfg.IdleTimeout > 0 {
		go sw.watchIdle()
	}
	return sw
}

// Write implements io.Writer.
func (sw *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if err := sw.err(); err != nil {
			return total, err
		}

		chunk := p
		if sw.cfg.ChunkSize > 0 && len(chunk) > sw.cfg.ChunkSize {
			chunk = p[:sw.cfg.ChunkSize]
		}
		n, err := sw.writeOnce(chunk)
		total += n
		if err != nil {
			return total, err
		}
		if sw.cfg.ChunkSize > 0 && sw.flusher != nil {
			sw.flusher.Flush()
		}
		p = p[len(chunk):]
	}
	return total, nil
}

func (sw *Writer) writeOnce(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := sw.w.Write(p)
		done <- result{n, err}
	}()

	var timeout <-chan time.Time
	if sw.cfg.WriteTimeout > 0 {
		timer := time.NewTimer(sw.cfg.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err == nil {
			sw.mu.Lock()
			sw.written += int64(r.n)
			sw.lastWrite = time.Now()
			sw.mu.Unlock()
		}
		return r.n, r.err
	case <-timeout:
		sw.cancel(ErrWriteTimeout)
		return 0, ErrWriteTimeout
	case <-sw.ctx.Done():
		return 0, sw.err()
	}
}

func (sw *Writer) watchIdle() {
	ticker := time.NewTicker(sw.cfg.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sw.mu.Lock()
			idle := time.Since(sw.lastWrite)
			sw.mu.Unlock()
			if idle > sw.cfg.IdleTimeout {
				logging.Warn("Stream idle for %v, closing", idle.Round(time.Second))
				sw.cancel(ErrIdle)
				return
			}
		case <-sw.ctx.Done():
			return
		}
	}
}

// err maps the context state to a stream error, or nil while healthy.
func (sw *Writer) err() error {
	if sw.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(sw.ctx)
	switch {
	case errors.Is(cause, ErrWriteTimeout), errors.Is(cause, ErrIdle):
		return cause
	default:
		return ErrClientGone
	}
}

// BytesWritten returns the number of bytes delivered so far.
func (sw *Writer) BytesWritten() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.written
}

// Close stops the idle watcher.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.closed = true
		sw.cancel(nil)
	}
	return nil
}

// Copy streams r to w under cfg's limits and returns the bytes delivered.
func Copy(ctx context.Context, w http.ResponseWriter, r io.Reader, cfg Config) (int64, error) {
	start := time.Now()
	sw := NewWriter(ctx, w, cfg)
	defer sw.Close()

	_, err := io.Copy(sw, r)
	n := sw.BytesWritten()
	logging.Debug("Stream finished: %d bytes in %v", n, time.Since(start).Round(time.Millisecond))
	return n, err
}
