package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"family-gallery/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

var errVipsUnavailable = errors.New("libvips not available")

// InitVips initializes the libvips library. It should be called once at
// startup; libvips cannot be restarted after ShutdownVips.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Configure vips logging before Startup so LOG_LEVEL applies to it.
	vipsLogLevel, logHandler := vipsLogging(logging.GetLevel())
	vips.LoggingSettings(logHandler, vipsLogLevel)

	// Process one image at a time to bound memory; the worker pool provides
	// the parallelism.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

func vipsLogging(level logging.LogLevel) (vips.LogLevel, func(string, vips.LogLevel, string)) {
	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo, func(domain string, l vips.LogLevel, msg string) {
			switch l {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			default:
				logging.Debug("[%s] %s", domain, msg)
			}
		}
	case logging.LevelInfo:
		return vips.LogLevelWarning, func(domain string, l vips.LogLevel, msg string) {
			switch l {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			}
		}
	case logging.LevelWarn:
		return vips.LogLevelError, func(domain string, l vips.LogLevel, msg string) {
			if l >= vips.LogLevelError {
				logging.Error("[%s] %s", domain, msg)
			}
		}
	default:
		return vips.LogLevelCritical, func(domain string, l vips.LogLevel, msg string) {
			if l >= vips.LogLevelCritical {
				logging.Error("[%s] %s", domain, msg)
			}
		}
	}
}

// ShutdownVips cleans up libvips resources
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// decodeWithVips loads formats the Go decoders lack (HEIC/HEIF when libvips
// is built with libheif). Orientation is applied before export, and PNG
// keeps any alpha channel for flattening.
func decodeWithVips(path string) (image.Image, error) {
	if !IsVipsAvailable() {
		return nil, errVipsUnavailable
	}

	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("vips auto-rotate failed: %w", err)
	}

	logging.Debug("Vips loaded %s: %dx%d", filepath.Base(path), ref.Width(), ref.Height())

	buf, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode vips output: %w", err)
	}
	return img, nil
}

// captureTimeWithVips reads the EXIF block libvips attaches as "exif-data"
// for any format it loads.
func captureTimeWithVips(path string) (string, bool) {
	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		logging.Debug("vips could not load %s for EXIF: %v", filepath.Base(path), err)
		return "", false
	}
	defer ref.Close()

	blob := ref.GetBlob("exif-data")
	if len(blob) == 0 {
		return "", false
	}
	return CaptureTime(bytes.NewReader(blob))
}
