package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"family-gallery/internal/database"
	"family-gallery/internal/dispatch"
	"family-gallery/internal/logging"
	"family-gallery/internal/mediatypes"
	"family-gallery/internal/metrics"
	"family-gallery/internal/storage"
)

const (
	// DefaultMaxUploadBytes bounds a single upload.
	DefaultMaxUploadBytes int64 = 2 << 30
	// DefaultGalleryRoot prefixes every storage key.
	DefaultGalleryRoot = "galleries"

	maxKeyAttempts = 1000
)

var (
	ErrInvalidFileKind = errors.New("file type is not an accepted image or video")
	ErrFileTooLarge    = errors.New("file exceeds the upload size limit")
	ErrEmptyFile       = errors.New("file is empty")
	ErrStorageWrite    = errors.New("failed to store upload")
)

// Store is the subset of the registry ingestion needs.
type Store interface {
	CreateMediaItem(ctx context.Context, item *database.MediaItem) error
	GetMediaItem(ctx context.Context, id, viewerID string) (*database.MediaItem, error)
	KeyInUse(ctx context.Context, key string) (bool, error)
}

// Config holds ingestion settings.
type Config struct {
	GalleryRoot    string
	ScratchDir     string
	MaxUploadBytes int64
	// Keys is shared with the processing worker when both run in one
	// process. Nil gets a private set.
	Keys *storage.Reservations
}

// Upload is one file received from a client.
type Upload struct {
	Reader      io.Reader
	Filename    string
	UploaderID  string
	Description *string
}

// Service stores uploads, registers them and hands them to processing.
type Service struct {
	store      Store
	backend    storage.Backend
	dispatcher dispatch.Dispatcher
	cfg        Config
	keys       *storage.Reservations
	now        func() time.Time
}

// NewService creates an ingestion service.
func NewService(store Store, backend storage.Backend, dispatcher dispatch.Dispatcher, cfg Config) *Service {
	cfg.GalleryRoot = strings.Trim(cfg.GalleryRoot, "/")
	if cfg.GalleryRoot == "" {
		cfg.GalleryRoot = DefaultGalleryRoot
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	keys := cfg.Keys
	if keys == nil {
		keys = storage.NewReservations()
	}
	return &Service{
		store:      store,
		backend:    backend,
		dispatcher: dispatcher,
		cfg:        cfg,
		keys:       keys,
		now:        time.Now,
	}
}

// MaxUploadBytes returns the configured per-file limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}

// Ingest stores one upload and registers it in the processing state. The
// returned item is re-read after dispatch, so with inline dispatch it is
// already ready or error.
func (s *Service) Ingest(ctx context.Context, up Upload) (*database.MediaItem, error) {
	kind := mediatypes.KindOfExt(mediatypes.Ext(up.Filename))
	if err := Validate(up.Filename); err != nil {
		metrics.UploadsTotal.WithLabelValues(string(kind), "invalid_kind").Inc()
		return nil, err
	}

	spool, size, err := s.spool(up.Reader)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyFile):
			metrics.UploadsTotal.WithLabelValues(string(kind), "empty").Inc()
		case errors.Is(err, ErrFileTooLarge):
			metrics.UploadsTotal.WithLabelValues(string(kind), "too_large").Inc()
		default:
			metrics.UploadsTotal.WithLabelValues(string(kind), "storage_error").Inc()
		}
		return nil, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()
	metrics.UploadBytes.Observe(float64(size))

	mimeType, err := sniff(spool)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(string(kind), "storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if sniffed := mediatypes.KindOfMIME(mimeType); sniffed != mediatypes.KindOther {
		kind = sniffed
	}

	key, err := s.reserveKey(ctx, s.keyFor(up.Filename))
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(string(kind), "storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	defer s.keys.Release(key)

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		metrics.UploadsTotal.WithLabelValues(string(kind), "storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := s.backend.Put(ctx, key, spool, size, mimeType); err != nil {
		logging.Error("Failed to store upload %s: %v", key, err)
		metrics.UploadsTotal.WithLabelValues(string(kind), "storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	item := &database.MediaItem{
		UploaderID:       up.UploaderID,
		StorageKey:       key,
		OriginalFilename: up.Filename,
		MimeType:         mimeType,
		Kind:             kind,
		FileSizeBytes:    size,
		Description:      cleanDescription(up.Description),
	}
	if err := s.store.CreateMediaItem(ctx, item); err != nil {
		if delErr := s.backend.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			logging.Warn("Failed to remove orphaned upload %s: %v", key, delErr)
		}
		metrics.UploadsTotal.WithLabelValues(string(kind), "registry_error").Inc()
		return nil, fmt.Errorf("failed to register upload %s: %w", key, err)
	}
	metrics.UploadsTotal.WithLabelValues(string(kind), "success").Inc()
	logging.Info("Ingested %s as %s (%s, %d bytes)", up.Filename, key, mimeType, size)

	if err := s.dispatcher.Dispatch(ctx, item.ID); err != nil {
		logging.Error("Failed to dispatch processing for %s: %v", item.ID, err)
	}

	fresh, err := s.store.GetMediaItem(ctx, item.ID, up.UploaderID)
	if err != nil {
		logging.Warn("Failed to reload media item %s: %v", item.ID, err)
		return item, nil
	}
	return fresh, nil
}

// spool copies r into a scratch file, enforcing the size limit.
func (s *Service) spool(r io.Reader) (*os.File, int64, error) {
	f, err := os.CreateTemp(s.cfg.ScratchDir, "upload-*")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	discard := func() {
		f.Close()
		os.Remove(f.Name())
	}

	n, err := io.Copy(f, io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if err != nil {
		discard()
		return nil, 0, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	switch {
	case n == 0:
		discard()
		return nil, 0, ErrEmptyFile
	case n > s.cfg.MaxUploadBytes:
		discard()
		return nil, 0, ErrFileTooLarge
	}
	return f, n, nil
}

// sniff detects the content type from the file header, without parameters.
func sniff(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	mimeType, _, _ := strings.Cut(mtype.String(), ";")
	return strings.TrimSpace(mimeType), nil
}

// keyFor builds <root>/<yyyy>/<mm>/<sanitized name> from the upload time.
func (s *Service) keyFor(filename string) string {
	now := s.now().UTC()
	name := SanitizeFilename(filename)
	return fmt.Sprintf("%s/%04d/%02d/%s", s.cfg.GalleryRoot, now.Year(), int(now.Month()), name)
}

// reserveKey finds a key that is neither stored, registered, nor held by an
// in-flight writer, and holds it until released.
func (s *Service) reserveKey(ctx context.Context, want string) (string, error) {
	key, collisions, err := storage.FreeKey(ctx, want, maxKeyAttempts, s.claim)
	if err != nil {
		return "", err
	}
	if collisions > 0 {
		metrics.UploadKeyCollisions.Add(float64(collisions))
		logging.Debug("Key %s taken, using %s", want, key)
	}
	return key, nil
}

func (s *Service) claim(ctx context.Context, key string) (bool, error) {
	return s.keys.Claim(ctx, key, s.keyInUse)
}

func (s *Service) keyInUse(ctx context.Context, key string) (bool, error) {
	exists, err := s.backend.Exists(ctx, key)
	if err != nil || exists {
		return exists, err
	}
	return s.store.KeyInUse(ctx, key)
}

func cleanDescription(d *string) *string {
	if d == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*d)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
