package startup

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/gorilla/mux"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
	if info.OS == "" || info.Arch == "" {
		t.Error("Expected OS and Arch to be set")
	}
}

func parseEnv(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	return parse(env.Options{Environment: vars})
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{})
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StorageBackend != "local" || cfg.DispatchMode != "inline" {
		t.Errorf("backend/mode = %q/%q, want local/inline", cfg.StorageBackend, cfg.DispatchMode)
	}
	if cfg.GalleryRoot != "galleries" {
		t.Errorf("GalleryRoot = %q, want galleries", cfg.GalleryRoot)
	}
	if cfg.SignedURLTTL != time.Hour {
		t.Errorf("SignedURLTTL = %v, want 1h", cfg.SignedURLTTL)
	}
	if cfg.MaxUploadBytes != 1<<30 {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, 1<<30)
	}
	if cfg.UploadTimeout != time.Hour {
		t.Errorf("UploadTimeout = %v, want 1h", cfg.UploadTimeout)
	}
	if cfg.DatabasePath != filepath.Join("/database", "gallery.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.ScratchDir != os.TempDir() {
		t.Errorf("ScratchDir = %q, want %q", cfg.ScratchDir, os.TempDir())
	}
}

func TestParseS3AndNATS(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{
		"STORAGE_BACKEND":   "s3",
		"S3_BUCKET":         "family",
		"S3_ENDPOINT":       "http://minio:9000",
		"S3_USE_PATH_STYLE": "true",
		"SIGNED_URL_TTL":    "15m",
		"DISPATCH_MODE":     "nats",
		"NATS_URL":          "nats://queue:4222",
		"PROCESS_WORKERS":   "3",
	})
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}

	sc := cfg.StorageConfig()
	if sc.Kind != "s3" || sc.Bucket != "family" || !sc.UsePathStyle || sc.Endpoint != "http://minio:9000" {
		t.Errorf("StorageConfig() = %+v", sc)
	}
	dc := cfg.DispatchConfig()
	if dc.Mode != "nats" || dc.URL != "nats://queue:4222" || dc.Workers != 3 {
		t.Errorf("DispatchConfig() = %+v", dc)
	}
	if cfg.SignedURLTTL != 15*time.Minute {
		t.Errorf("SignedURLTTL = %v, want 15m", cfg.SignedURLTTL)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "ftp"}, "STORAGE_BACKEND"},
		{"s3 without bucket", map[string]string{"STORAGE_BACKEND": "s3"}, "S3_BUCKET"},
		{"unknown dispatch", map[string]string{"DISPATCH_MODE": "celery"}, "DISPATCH_MODE"},
		{"zero ttl", map[string]string{"SIGNED_URL_TTL": "0s"}, "SIGNED_URL_TTL"},
		{"negative workers", map[string]string{"PROCESS_WORKERS": "-1"}, "PROCESS_WORKERS"},
		{"bad duration", map[string]string{"SESSION_DURATION": "forever"}, "parse environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEnv(t, tt.vars)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := map[string]string{
		"/api/media/{id}":  "api/media",
		"/api/auth/login":  "api/auth",
		"/healthz":         "healthz",
		"/":                "",
		"/api":             "api",
		"/version/details": "version",
	}
	for path, want := range tests {
		if got := getRouteGroup(path); got != want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestGetRoutes(t *testing.T) {
	r := mux.NewRouter()
	noop := func(http.ResponseWriter, *http.Request) {}
	r.HandleFunc("/api/media", noop).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/healthz", noop)

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("GetRoutes() returned %d routes, want 3: %+v", len(routes), routes)
	}
	if routes[2].Method != "*" || routes[2].Path != "/healthz" {
		t.Errorf("route without methods = %+v, want method *", routes[2])
	}
}

func TestEnsureDirectoryAndWriteAccess(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	if err := ensureDirectory(dir, "database"); err != nil {
		t.Fatalf("ensureDirectory() error = %v", err)
	}
	if err := testWriteAccess(dir); err != nil {
		t.Fatalf("testWriteAccess() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".write-test")); !os.IsNotExist(err) {
		t.Error("write test file was not removed")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureDirectory(file, "database"); err == nil {
		t.Error("ensureDirectory() on a regular file should fail")
	}
}

func TestCheckFFmpegMissingBinary(t *testing.T) {
	if err := CheckFFmpeg(filepath.Join(t.TempDir(), "no-ffmpeg")); err == nil {
		t.Error("CheckFFmpeg() with a missing binary should fail")
	}
}

func TestMask(t *testing.T) {
	if got := mask(""); got != "(default chain)" {
		t.Errorf("mask(\"\") = %q", got)
	}
	if got := mask("abc"); got != "****" {
		t.Errorf("mask(abc) = %q", got)
	}
	if got := mask("AKIAEXAMPLE"); got != "AKIA****" {
		t.Errorf("mask(AKIAEXAMPLE) = %q", got)
	}
}
