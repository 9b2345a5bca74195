package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/logging"
	"family-gallery/internal/media"
	"family-gallery/internal/mediatypes"
	"family-gallery/internal/metrics"
	"family-gallery/internal/storage"
)

// maxKeyAttempts bounds the search for a free converted key.
const maxKeyAttempts = 1000

// ErrAssetMissing is reported when a processing item's object is gone.
var ErrAssetMissing = errors.New("stored asset missing")

// Store is the subset of the registry the worker needs.
type Store interface {
	GetMediaItem(ctx context.Context, id, viewerID string) (*database.MediaItem, error)
	KeyInUse(ctx context.Context, key string) (bool, error)
	CompleteProcessing(ctx context.Context, id string, res database.ProcessingResult) error
	MarkProcessingError(ctx context.Context, id string) error
}

// Config holds worker tuning.
type Config struct {
	ScratchDir  string
	FFmpegPath  string
	MaxEdge     int
	JPEGQuality int
	// Keys is shared with ingestion when both run in one process. Nil gets
	// a private set.
	Keys *storage.Reservations
}

// Worker turns a processing item into a ready or error item.
type Worker struct {
	store      Store
	backend    storage.Backend
	decoder    *media.Decoder
	frames     media.FrameExtractor
	keys       *storage.Reservations
	scratchDir string
	maxEdge    int
	quality    int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Worker. A nil frames extractor defaults to ffmpeg at cfg.FFmpegPath.
func New(store Store, backend storage.Backend, frames media.FrameExtractor, cfg Config) *Worker {
	if frames == nil {
		frames = media.NewFFmpegExtractor(cfg.FFmpegPath)
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.MaxEdge <= 0 {
		cfg.MaxEdge = media.MaxEdge
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = media.JPEGQuality
	}
	if cfg.Keys == nil {
		cfg.Keys = storage.NewReservations()
	}
	return &Worker{
		store:      store,
		backend:    backend,
		decoder:    media.NewDecoder(cfg.FFmpegPath),
		frames:     frames,
		keys:       cfg.Keys,
		scratchDir: cfg.ScratchDir,
		maxEdge:    cfg.MaxEdge,
		quality:    cfg.JPEGQuality,
		inflight:   make(map[string]struct{}),
	}
}

// Process runs the processing pipeline for one item. Failures are recorded
// on the item, never returned. Items that are missing, no longer
// processing, or already being processed by this worker are left untouched,
// so redelivered requests are harmless.
//
// Cancelling ctx interrupts fetching and decoding. Once outputs are being
// written the item is always carried to a terminal state.
func (w *Worker) Process(ctx context.Context, id string) {
	if !w.begin(id) {
		logging.Debug("Processing skipped: media item %s is already in progress", id)
		metrics.ProcessingTotal.WithLabelValues("unknown", "busy").Inc()
		return
	}
	defer w.end(id)

	start := time.Now()
	metrics.ProcessingInFlight.Inc()
	defer metrics.ProcessingInFlight.Dec()

	item, err := w.store.GetMediaItem(ctx, id, "")
	if errors.Is(err, database.ErrNotFound) {
		logging.Warn("Processing skipped: media item %s not found", id)
		metrics.ProcessingTotal.WithLabelValues("unknown", "missing").Inc()
		return
	}
	if err != nil {
		logging.Error("Processing skipped: failed to load media item %s: %v", id, err)
		metrics.ProcessingTotal.WithLabelValues("unknown", "load_error").Inc()
		return
	}
	if item.Status != database.StatusProcessing {
		logging.Debug("Processing skipped: media item %s is already %s", id, item.Status)
		metrics.ProcessingTotal.WithLabelValues(string(item.Kind), "skipped").Inc()
		return
	}

	kind := kindOf(item)
	persist := context.WithoutCancel(ctx)

	var held []string
	defer func() {
		for _, key := range held {
			w.keys.Release(key)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Panic while processing %s: %v\n%s", id, r, debug.Stack())
			w.fail(persist, item, kind, start)
		}
	}()

	res, err := w.run(ctx, item, kind, &held)
	if err != nil {
		if errors.Is(err, ErrAssetMissing) && w.superseded(persist, item) {
			logging.Warn("Media item %s was finished by another attempt", id)
			metrics.ProcessingTotal.WithLabelValues(string(kind), "stale").Inc()
			return
		}
		if ctx.Err() != nil {
			// Shutdown: leave the item processing for redelivery or requeue.
			logging.Warn("Processing of %s interrupted: %v", id, err)
			metrics.ProcessingTotal.WithLabelValues(string(kind), "interrupted").Inc()
			return
		}
		logging.Error("Processing failed for %s (%s): %v", id, item.OriginalFilename, err)
		w.fail(persist, item, kind, start)
		return
	}

	if err := w.store.CompleteProcessing(persist, id, *res); err != nil {
		if errors.Is(err, database.ErrNotProcessing) || errors.Is(err, database.ErrNotFound) {
			logging.Warn("Media item %s changed while processing: %v", id, err)
			metrics.ProcessingTotal.WithLabelValues(string(kind), "stale").Inc()
			w.discard(persist, item, res)
			return
		}
		logging.Error("Failed to record processing result for %s: %v", id, err)
		w.fail(persist, item, kind, start)
		return
	}

	metrics.ProcessingTotal.WithLabelValues(string(kind), "success").Inc()
	metrics.ProcessingDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	logging.Info("Processed %s %s (%s) in %v", kind, id, res.StorageKey, time.Since(start).Round(time.Millisecond))
}

func (w *Worker) begin(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[id]; busy {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) end(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

func (w *Worker) fail(ctx context.Context, item *database.MediaItem, kind mediatypes.Kind, start time.Time) {
	metrics.ProcessingTotal.WithLabelValues(string(kind), "error").Inc()
	metrics.ProcessingDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err := w.store.MarkProcessingError(ctx, item.ID); err != nil && !errors.Is(err, database.ErrNotProcessing) {
		logging.Error("Failed to mark %s as error: %v", item.ID, err)
	}
}

// superseded reports whether the registry row moved on since item was
// loaded: deleted, terminal, or pointing at a different object.
func (w *Worker) superseded(ctx context.Context, item *database.MediaItem) bool {
	current, err := w.store.GetMediaItem(ctx, item.ID, "")
	if errors.Is(err, database.ErrNotFound) {
		return true
	}
	if err != nil {
		return false
	}
	return current.Status != database.StatusProcessing || current.StorageKey != item.StorageKey
}

// discard removes the objects an attempt wrote when its result was not
// committed, keeping any the registry row now references.
func (w *Worker) discard(ctx context.Context, item *database.MediaItem, res *database.ProcessingResult) {
	current, err := w.store.GetMediaItem(ctx, item.ID, "")
	switch {
	case errors.Is(err, database.ErrNotFound):
		current = nil
	case err != nil:
		logging.Warn("Keeping outputs of %s, reload failed: %v", item.ID, err)
		return
	}

	var outputs []string
	if res.StorageKey != item.StorageKey || current == nil {
		outputs = append(outputs, res.StorageKey)
	}
	if res.ThumbnailKey != nil {
		outputs = append(outputs, *res.ThumbnailKey)
	}
	for _, key := range outputs {
		if current != nil && references(current, key) {
			continue
		}
		if err := w.backend.Delete(ctx, key); err != nil {
			logging.Warn("Failed to remove uncommitted object %s: %v", key, err)
			continue
		}
		logging.Debug("Removed uncommitted object %s", key)
	}
}

func references(item *database.MediaItem, key string) bool {
	return item.StorageKey == key || (item.ThumbnailKey != nil && *item.ThumbnailKey == key)
}

// reserve resolves a free key near want and holds it until Process returns.
func (w *Worker) reserve(ctx context.Context, want string, held *[]string) (string, error) {
	key, _, err := storage.FreeKey(ctx, want, maxKeyAttempts, func(ctx context.Context, k string) (bool, error) {
		return w.keys.Claim(ctx, k, w.keyInUse)
	})
	if err != nil {
		return "", err
	}
	*held = append(*held, key)
	return key, nil
}

func (w *Worker) keyInUse(ctx context.Context, key string) (bool, error) {
	exists, err := w.backend.Exists(ctx, key)
	if err != nil || exists {
		return exists, err
	}
	return w.store.KeyInUse(ctx, key)
}

// kindOf prefers the sniffed MIME type and falls back to the key extension.
func kindOf(item *database.MediaItem) mediatypes.Kind {
	if k := mediatypes.KindOfMIME(item.MimeType); k != mediatypes.KindOther {
		return k
	}
	return mediatypes.KindOfExt(mediatypes.Ext(item.StorageKey))
}

func (w *Worker) run(ctx context.Context, item *database.MediaItem, kind mediatypes.Kind, held *[]string) (*database.ProcessingResult, error) {
	scratch, err := os.MkdirTemp(w.scratchDir, "process-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logging.Warn("Failed to remove scratch dir %s: %v", scratch, err)
		}
	}()

	src := filepath.Join(scratch, "source"+mediatypes.Ext(item.StorageKey))
	if err := w.fetch(ctx, item.StorageKey, src); err != nil {
		return nil, err
	}

	switch kind {
	case mediatypes.KindImage:
		return w.processImage(ctx, item, src, held)
	case mediatypes.KindVideo:
		return w.processVideo(ctx, item, src, scratch, held)
	default:
		return nil, fmt.Errorf("unsupported media kind for %s (%s)", item.StorageKey, item.MimeType)
	}
}

// fetch copies the stored object into a local scratch file.
func (w *Worker) fetch(ctx context.Context, key, dst string) error {
	obj, err := w.backend.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAssetMissing, key)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer obj.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}
	if _, err := io.Copy(f, obj.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to copy %s to scratch: %w", key, err)
	}
	return f.Close()
}

func (w *Worker) processImage(ctx context.Context, item *database.MediaItem, src string, held *[]string) (*database.ProcessingResult, error) {
	img, err := w.decoder.Decode(ctx, src)
	if err != nil {
		return nil, err
	}

	res := &database.ProcessingResult{
		StorageKey: item.StorageKey,
		MimeType:   "image/jpeg",
	}
	if captured, ok := media.CaptureTimeFile(src); ok {
		res.CapturedAt = &captured
	}

	img = media.Normalize(img, w.maxEdge)
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	res.Width, res.Height = &width, &height

	var buf bytes.Buffer
	if err := media.EncodeJPEG(&buf, img, w.quality); err != nil {
		return nil, err
	}

	// Writes below are not cancelled: once the new object exists the
	// sequence must reach the registry commit.
	persist := context.WithoutCancel(ctx)

	if mediatypes.IsJPEG(item.StorageKey) {
		if err := w.backend.Put(persist, item.StorageKey, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/jpeg"); err != nil {
			return nil, fmt.Errorf("failed to overwrite %s: %w", item.StorageKey, err)
		}
		return res, nil
	}

	dir, stem, ext := storage.SplitKey(item.StorageKey)
	newKey, err := w.reserve(ctx, storage.JoinKey(dir, stem, ".jpg"), held)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve converted key: %w", err)
	}
	if err := w.backend.Put(persist, newKey, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/jpeg"); err != nil {
		return nil, fmt.Errorf("failed to store converted image: %w", err)
	}
	if err := w.backend.Delete(persist, item.StorageKey); err != nil {
		if delErr := w.backend.Delete(persist, newKey); delErr != nil {
			logging.Warn("Failed to remove converted object %s: %v", newKey, delErr)
		}
		return nil, fmt.Errorf("failed to remove original %s: %w", item.StorageKey, err)
	}

	metrics.ImageConversionsTotal.WithLabelValues(ext).Inc()
	logging.Debug("Converted %s to %s", item.StorageKey, newKey)
	res.StorageKey = newKey
	return res, nil
}

func (w *Worker) processVideo(ctx context.Context, item *database.MediaItem, src, scratch string, held *[]string) (*database.ProcessingResult, error) {
	res := &database.ProcessingResult{
		StorageKey: item.StorageKey,
		MimeType:   item.MimeType,
	}

	thumbKey, err := w.makeVideoThumbnail(ctx, item.StorageKey, src, scratch, held)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Warn("No thumbnail for video %s: %v", item.StorageKey, err)
		metrics.VideoFrameTotal.WithLabelValues("error").Inc()
		return res, nil
	}

	metrics.VideoFrameTotal.WithLabelValues("success").Inc()
	res.ThumbnailKey = &thumbKey
	return res, nil
}

// ThumbnailKey returns the preferred key for a video's thumbnail:
// "<dir>/thumbs/<stem>_thumb.jpg". Taken keys get a numeric suffix.
func ThumbnailKey(videoKey string) string {
	dir, stem, _ := storage.SplitKey(videoKey)
	return storage.JoinKey(storage.JoinKey(dir, "thumbs", ""), stem+"_thumb", ".jpg")
}

func (w *Worker) makeVideoThumbnail(ctx context.Context, key, src, scratch string, held *[]string) (string, error) {
	dst := filepath.Join(scratch, "frame.jpg")
	if err := w.frames.ExtractFrame(ctx, src, dst); err != nil {
		return "", err
	}

	f, err := os.Open(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	thumbKey, err := w.reserve(ctx, ThumbnailKey(key), held)
	if err != nil {
		return "", fmt.Errorf("failed to resolve thumbnail key: %w", err)
	}
	if err := w.backend.Put(context.WithoutCancel(ctx), thumbKey, f, info.Size(), "image/jpeg"); err != nil {
		return "", fmt.Errorf("failed to store thumbnail: %w", err)
	}
	return thumbKey, nil
}
