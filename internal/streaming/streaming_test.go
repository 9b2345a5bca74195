package streaming

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// flushCounter records how often the writer flushed.
type flushCounter struct {
	*httptest.ResponseRecorder
	flushes int
}

func (f *flushCounter) Flush() { f.flushes++ }

// stalledWriter blocks every Write until release is closed.
type stalledWriter struct {
	header  http.Header
	release chan struct{}
}

func newStalledWriter(t *testing.T) *stalledWriter {
	s := &stalledWriter{header: http.Header{}, release: make(chan struct{})}
	t.Cleanup(func() { close(s.release) })
	return s
}

func (s *stalledWriter) Header() http.Header { return s.header }
func (s *stalledWriter) WriteHeader(int)     {}
func (s *stalledWriter) Write(p []byte) (int, error) {
	<-s.release
	return len(p), nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.WriteTimeout != 30*time.Second || cfg.IdleTimeout != 60*time.Second || cfg.ChunkSize != 64*1024 {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestCopyDeliversEverything(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 10_000)
	rec := &flushCounter{ResponseRecorder: httptest.NewRecorder()}

	n, err := Copy(context.Background(), rec, bytes.NewReader(payload), Config{
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
		ChunkSize:    16 * 1024,
	})
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("Copy() = %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("body differs from payload")
	}
	if rec.flushes < len(payload)/(16*1024) {
		t.Errorf("flushes = %d, want at least one per chunk", rec.flushes)
	}
}

func TestWriteTimeout(t *testing.T) {
	w := newStalledWriter(t)
	sw := NewWriter(context.Background(), w, Config{WriteTimeout: 20 * time.Millisecond})
	defer sw.Close()

	start := time.Now()
	_, err := sw.Write([]byte("hello"))
	if !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("Write() error = %v, want ErrWriteTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}

	if _, err := sw.Write([]byte("again")); !errors.Is(err, ErrWriteTimeout) {
		t.Errorf("second Write() error = %v, want ErrWriteTimeout", err)
	}
}

func TestIdleTimeout(t *testing.T) {
	w := newStalledWriter(t)
	sw := NewWriter(context.Background(), w, Config{IdleTimeout: 40 * time.Millisecond})
	defer sw.Close()

	_, err := sw.Write([]byte("hello"))
	if !errors.Is(err, ErrIdle) {
		t.Fatalf("Write() error = %v, want ErrIdle", err)
	}
}

func TestClientGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := Copy(ctx, httptest.NewRecorder(), strings.NewReader("data"), DefaultConfig())
	if !errors.Is(err, ErrClientGone) {
		t.Errorf("Copy() error = %v, want ErrClientGone", err)
	}
	if n != 0 {
		t.Errorf("Copy() = %d bytes after cancel", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sw := NewWriter(context.Background(), httptest.NewRecorder(), DefaultConfig())
	if err := sw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sw.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := sw.Write([]byte("x")); !errors.Is(err, ErrClientGone) {
		t.Errorf("Write after Close error = %v", err)
	}
}
