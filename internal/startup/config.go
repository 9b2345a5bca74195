package startup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"family-gallery/internal/dispatch"
	"family-gallery/internal/logging"
	"family-gallery/internal/storage"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is parsed once at startup
// and handed to constructors explicitly.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	MetricsPort     string        `env:"METRICS_PORT" envDefault:"9090"`
	MetricsEnabled  bool          `env:"METRICS_ENABLED" envDefault:"true"`
	DatabaseDir     string        `env:"DATABASE_DIR" envDefault:"/database"`
	ScratchDir      string        `env:"SCRATCH_DIR"`
	LogStaticFiles  bool          `env:"LOG_STATIC_FILES" envDefault:"false"`
	LogHealthChecks bool          `env:"LOG_HEALTH_CHECKS" envDefault:"true"`
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"168h"`
	SecureCookies   bool          `env:"SECURE_COOKIES" envDefault:"false"`

	StorageBackend  string        `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalStorageDir string        `env:"LOCAL_STORAGE_DIR" envDefault:"/media"`
	GalleryRoot     string        `env:"GALLERY_ROOT" envDefault:"galleries"`
	S3Bucket        string        `env:"S3_BUCKET"`
	S3Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string        `env:"S3_ENDPOINT"`
	S3AccessKeyID   string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey     string        `env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle  bool          `env:"S3_USE_PATH_STYLE" envDefault:"false"`
	SignedURLTTL    time.Duration `env:"SIGNED_URL_TTL" envDefault:"1h"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" envDefault:"1073741824"`
	UploadTimeout   time.Duration `env:"UPLOAD_READ_TIMEOUT" envDefault:"1h"`
	FFmpegPath      string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	DispatchMode   string        `env:"DISPATCH_MODE" envDefault:"inline"`
	NATSURL        string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSStream     string        `env:"NATS_STREAM" envDefault:"GALLERY"`
	NATSSubject    string        `env:"NATS_SUBJECT" envDefault:"gallery.media.process"`
	NATSDurable    string        `env:"NATS_DURABLE" envDefault:"gallery-worker"`
	NATSAckWait    time.Duration `env:"NATS_ACK_WAIT" envDefault:"10m"`
	NATSMaxDeliver int           `env:"NATS_MAX_DELIVER" envDefault:"5"`
	ProcessWorkers int           `env:"PROCESS_WORKERS" envDefault:"0"`

	// Derived paths
	DatabasePath string
}

// Parse reads configuration from the process environment, after loading an
// optional .env file from the working directory. It performs no I/O beyond that.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "gallery.db")
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch storage.Kind(c.StorageBackend) {
	case storage.KindLocal:
		if c.LocalStorageDir == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_DIR is required for the local storage backend"))
		}
	case storage.KindS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q (want local or s3)", c.StorageBackend))
	}

	switch dispatch.Mode(c.DispatchMode) {
	case dispatch.ModeInline:
	case dispatch.ModeNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for nats dispatch"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DISPATCH_MODE %q (want inline or nats)", c.DispatchMode))
	}

	if c.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("SIGNED_URL_TTL must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.UploadTimeout <= 0 {
		errs = append(errs, errors.New("UPLOAD_READ_TIMEOUT must be positive"))
	}
	if c.ProcessWorkers < 0 {
		errs = append(errs, errors.New("PROCESS_WORKERS must not be negative"))
	}

	return errors.Join(errs...)
}

// StorageConfig returns the storage backend selection derived from the config.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Kind:            storage.Kind(c.StorageBackend),
		LocalDir:        c.LocalStorageDir,
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretKey,
		UsePathStyle:    c.S3UsePathStyle,
	}
}

// DispatchConfig returns the task dispatch selection derived from the config.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Mode:       dispatch.Mode(c.DispatchMode),
		URL:        c.NATSURL,
		Stream:     c.NATSStream,
		Subject:    c.NATSSubject,
		Durable:    c.NATSDurable,
		AckWait:    c.NATSAckWait,
		MaxDeliver: c.NATSMaxDeliver,
		Workers:    c.ProcessWorkers,
	}
}

// LoadConfig parses the configuration, logs it and prepares the directories
// the process needs. The database directory must be writable; the local
// storage directory is created when the local backend is selected.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	logSection("CONFIGURATION")
	logging.Info("  PORT:                %s", cfg.Port)
	logging.Info("  METRICS_PORT:        %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", cfg.MetricsEnabled)
	logging.Info("  DATABASE_DIR:        %s", cfg.DatabaseDir)
	logging.Info("  SCRATCH_DIR:         %s", cfg.ScratchDir)
	logging.Info("  STORAGE_BACKEND:     %s", cfg.StorageBackend)
	if storage.Kind(cfg.StorageBackend) == storage.KindS3 {
		logging.Info("  S3_BUCKET:           %s", cfg.S3Bucket)
		logging.Info("  S3_REGION:           %s", cfg.S3Region)
		logging.Info("  S3_ENDPOINT:         %s", valueOrDefault(cfg.S3Endpoint, "(aws)"))
		logging.Info("  S3_USE_PATH_STYLE:   %v", cfg.S3UsePathStyle)
		logging.Info("  S3_ACCESS_KEY_ID:    %s", mask(cfg.S3AccessKeyID))
	} else {
		logging.Info("  LOCAL_STORAGE_DIR:   %s", cfg.LocalStorageDir)
	}
	logging.Info("  GALLERY_ROOT:        %s", cfg.GalleryRoot)
	logging.Info("  SIGNED_URL_TTL:      %s", cfg.SignedURLTTL)
	logging.Info("  MAX_UPLOAD_BYTES:    %d", cfg.MaxUploadBytes)
	logging.Info("  FFMPEG_PATH:         %s", cfg.FFmpegPath)
	logging.Info("  DISPATCH_MODE:       %s", cfg.DispatchMode)
	if dispatch.Mode(cfg.DispatchMode) == dispatch.ModeNATS {
		logging.Info("  NATS_URL:            %s", cfg.NATSURL)
		logging.Info("  NATS_STREAM:         %s", cfg.NATSStream)
		logging.Info("  NATS_SUBJECT:        %s", cfg.NATSSubject)
	}
	logging.Info("  SESSION_DURATION:    %s", cfg.SessionDuration)
	logging.Info("  LOG_STATIC_FILES:    %v", cfg.LogStaticFiles)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", cfg.LogHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	logging.Info("")
	logSection("DIRECTORY SETUP")

	if cfg.DatabaseDir, err = filepath.Abs(cfg.DatabaseDir); err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "gallery.db")
	logging.Info("  Database directory (absolute): %s", cfg.DatabaseDir)

	if err := ensureDirectory(cfg.DatabaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	if err := testWriteAccess(cfg.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required for database): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	if err := ensureDirectory(cfg.ScratchDir, "scratch"); err != nil {
		return nil, fmt.Errorf("scratch directory error: %w", err)
	}
	if err := testWriteAccess(cfg.ScratchDir); err != nil {
		return nil, fmt.Errorf("scratch directory is not writable: %w", err)
	}
	logging.Info("  [OK] Scratch directory is writable")

	if storage.Kind(cfg.StorageBackend) == storage.KindLocal {
		if cfg.LocalStorageDir, err = filepath.Abs(cfg.LocalStorageDir); err != nil {
			return nil, fmt.Errorf("failed to resolve storage directory path: %w", err)
		}
		if err := ensureDirectory(cfg.LocalStorageDir, "storage"); err != nil {
			return nil, fmt.Errorf("storage directory error: %w", err)
		}
		if err := testWriteAccess(cfg.LocalStorageDir); err != nil {
			return nil, fmt.Errorf("storage directory is not writable: %w", err)
		}
		logging.Info("  [OK] Storage directory is writable: %s", cfg.LocalStorageDir)
	}

	return cfg, nil
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// mask keeps the first four characters of a credential for log output.
func mask(v string) string {
	if v == "" {
		return "(default chain)"
	}
	if len(v) <= 4 {
		return "****"
	}
	return v[:4] + "****"
}
