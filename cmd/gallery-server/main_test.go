package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/logging"
	"family-gallery/internal/middleware"
	"family-gallery/internal/startup"
)

func TestServerTimeouts(t *testing.T) {
	t.Run("Read timeout is reasonable", func(t *testing.T) {
		if serverReadTimeout < 5*time.Second || serverReadTimeout > 60*time.Second {
			t.Errorf("serverReadTimeout = %v", serverReadTimeout)
		}
	})

	t.Run("Headers must arrive before the body deadline", func(t *testing.T) {
		if serverReadHeaderTimeout <= 0 || serverReadHeaderTimeout > serverReadTimeout {
			t.Errorf("serverReadHeaderTimeout = %v", serverReadHeaderTimeout)
		}
	})

	t.Run("Idle timeout is reasonable", func(t *testing.T) {
		if serverIdleTimeout < 30*time.Second {
			t.Errorf("serverIdleTimeout = %v", serverIdleTimeout)
		}
	})

	t.Run("Shutdown leaves time for in-flight uploads", func(t *testing.T) {
		if shutdownTimeout < 10*time.Second {
			t.Errorf("shutdownTimeout = %v", shutdownTimeout)
		}
	})
}

func TestMetricsServer(t *testing.T) {
	srv := newMetricsServer("9999")

	if srv.Addr != ":9999" {
		t.Errorf("Addr = %s", srv.Addr)
	}
	if srv.ReadTimeout != metricsReadTimeout || srv.WriteTimeout != metricsWriteTimeout {
		t.Errorf("timeouts = %v/%v", srv.ReadTimeout, srv.WriteTimeout)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gallery_") {
		t.Error("/metrics does not expose gallery metrics")
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestBuildHandler(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })

	payload := strings.Repeat(`{"id":"0190","kind":"image"},`, 100)
	router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetRequestID(r.Context()) == "" {
			t.Error("request ID missing in handler context")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload)
	})
	handler := buildHandler(router, &startup.Config{LogHealthChecks: true})

	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	id := rec.Header().Get(middleware.RequestIDHeader)
	if id == "" {
		t.Fatal("response has no request ID")
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("large JSON response was not compressed")
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != payload {
		t.Error("decompressed body differs")
	}
	if !strings.Contains(buf.String(), id) {
		t.Errorf("access log does not carry request ID %s: %s", id, buf.String())
	}
}

func TestCleanSessionsStopsWithContext(t *testing.T) {
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "gallery.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cleanSessions(ctx, db)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanSessions did not return after cancel")
	}
}
