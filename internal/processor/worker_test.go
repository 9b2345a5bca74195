package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"family-gallery/internal/database"
	"family-gallery/internal/mediatypes"
	"family-gallery/internal/storage"
)

type fakeFrames struct {
	data  []byte
	err   error
	panic bool
	calls int
}

func (f *fakeFrames) ExtractFrame(_ context.Context, _, dst string) error {
	f.calls++
	if f.panic {
		panic("decoder blew up")
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, f.data, 0o644)
}

type testEnv struct {
	db      *database.Database
	backend *storage.LocalBackend
	frames  *fakeFrames
	worker  *Worker
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, filepath.Join(t.TempDir(), "gallery.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	backend, err := storage.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}

	frames := &fakeFrames{data: []byte("jpeg-frame")}
	w := New(db, backend, frames, Config{ScratchDir: t.TempDir()})
	return &testEnv{db: db, backend: backend, frames: frames, worker: w}
}

func encodeImage(t *testing.T, w, h int, format string) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})
	}
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// seed stores data under key and registers a processing item for it.
func (e *testEnv) seed(t *testing.T, key, mime string, data []byte) *database.MediaItem {
	t.Helper()
	ctx := context.Background()
	if data != nil {
		if err := e.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mime); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}
	item := &database.MediaItem{
		UploaderID:       "uploader",
		StorageKey:       key,
		OriginalFilename: filepath.Base(key),
		MimeType:         mime,
		Kind:             mediatypes.KindOfMIME(mime),
		FileSizeBytes:    int64(len(data)),
	}
	if item.Kind == mediatypes.KindOther {
		item.Kind = mediatypes.KindOfExt(mediatypes.Ext(key))
	}
	if err := e.db.CreateMediaItem(ctx, item); err != nil {
		t.Fatalf("CreateMediaItem() error = %v", err)
	}
	return item
}

func (e *testEnv) get(t *testing.T, id string) *database.MediaItem {
	t.Helper()
	item, err := e.db.GetMediaItem(context.Background(), id, "")
	if err != nil {
		t.Fatalf("GetMediaItem(%s) error = %v", id, err)
	}
	return item
}

func (e *testEnv) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := e.backend.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("Exists(%s) error = %v", key, err)
	}
	return ok
}

// hookBackend runs callbacks before selected operations reach the real
// backend.
type hookBackend struct {
	*storage.LocalBackend
	beforeOpen  func(key string)
	afterDelete func(key string)
}

func (b *hookBackend) Open(ctx context.Context, key string) (*storage.Object, error) {
	if b.beforeOpen != nil {
		b.beforeOpen(key)
	}
	return b.LocalBackend.Open(ctx, key)
}

func (b *hookBackend) Delete(ctx context.Context, key string) error {
	err := b.LocalBackend.Delete(ctx, key)
	if b.afterDelete != nil {
		b.afterDelete(key)
	}
	return err
}

// hooked swaps the worker's backend for one the test can intercept.
func (e *testEnv) hooked(t *testing.T) *hookBackend {
	t.Helper()
	hb := &hookBackend{LocalBackend: e.backend}
	e.worker = New(e.db, hb, e.frames, Config{ScratchDir: t.TempDir()})
	return hb
}

// withOrientation prefixes a JPEG with an EXIF segment carrying only the
// orientation tag.
func withOrientation(t *testing.T, data []byte, orientation uint16) []byte {
	t.Helper()
	le := binary.LittleEndian
	var tiff bytes.Buffer
	write := func(v any) { _ = binary.Write(&tiff, le, v) }
	tiff.WriteString("II")
	write(uint16(42))
	write(uint32(8))
	write(uint16(1))
	write(uint16(0x0112))
	write(uint16(3))
	write(uint32(1))
	write(orientation)
	write(uint16(0))
	write(uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(data[2:])
	return out.Bytes()
}

func TestProcessLargeJPEG(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "galleries/2024/05/beach.jpg", "image/jpeg", encodeImage(t, 3000, 2000, "jpeg"))

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady {
		t.Fatalf("Status = %s, want ready", got.Status)
	}
	if got.StorageKey != item.StorageKey || got.MimeType != "image/jpeg" {
		t.Errorf("key = %s, mime = %s", got.StorageKey, got.MimeType)
	}
	if got.Width == nil || got.Height == nil || *got.Width != 1920 || *got.Height != 1280 {
		t.Errorf("dimensions = %v x %v, want 1920x1280", got.Width, got.Height)
	}
	if got.CapturedAt != nil {
		t.Errorf("CapturedAt = %s, want none for an image without EXIF", *got.CapturedAt)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	obj, err := env.backend.Open(context.Background(), got.StorageKey)
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()
	cfg, format, err := image.DecodeConfig(obj.Body)
	if err != nil || format != "jpeg" || cfg.Width != 1920 {
		t.Errorf("stored object = %s %d wide, %v", format, cfg.Width, err)
	}
}

func TestProcessSmallImageNotUpscaled(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/small.jpg", "image/jpeg", encodeImage(t, 300, 200, "jpeg"))

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if *got.Width != 300 || *got.Height != 200 {
		t.Errorf("dimensions = %dx%d, want 300x200", *got.Width, *got.Height)
	}
}

func TestProcessConvertsToJPEGKey(t *testing.T) {
	env := setup(t)
	// Misnamed upload: PNG bytes behind a .heic name, sniffed as image/png.
	item := env.seed(t, "galleries/2024/05/IMG_1.heic", "image/png", encodeImage(t, 64, 48, "png"))

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady {
		t.Fatalf("Status = %s, want ready", got.Status)
	}
	if got.StorageKey != "galleries/2024/05/IMG_1.jpg" || got.MimeType != "image/jpeg" {
		t.Errorf("key = %s, mime = %s", got.StorageKey, got.MimeType)
	}
	if env.exists(t, "galleries/2024/05/IMG_1.heic") {
		t.Error("original object should be removed after conversion")
	}
	if !env.exists(t, "galleries/2024/05/IMG_1.jpg") {
		t.Error("converted object missing")
	}
}

func TestProcessConversionAvoidsCollision(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	other := []byte("someone else's photo")
	if err := env.backend.Put(ctx, "g/IMG_2.jpg", bytes.NewReader(other), int64(len(other)), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	item := env.seed(t, "g/IMG_2.png", "image/png", encodeImage(t, 20, 20, "png"))

	env.worker.Process(ctx, item.ID)

	got := env.get(t, item.ID)
	if got.StorageKey != "g/IMG_2_1.jpg" {
		t.Errorf("key = %s, want g/IMG_2_1.jpg", got.StorageKey)
	}
	obj, err := env.backend.Open(ctx, "g/IMG_2.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(obj.Body)
	if !bytes.Equal(buf.Bytes(), other) {
		t.Error("existing object was overwritten")
	}
}

func TestProcessAppliesOrientation(t *testing.T) {
	env := setup(t)
	// Stored portrait, displayed landscape after a quarter turn.
	data := withOrientation(t, encodeImage(t, 2000, 3000, "jpeg"), 6)
	item := env.seed(t, "g/rotated.jpg", "image/jpeg", data)

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady {
		t.Fatalf("Status = %s, want ready", got.Status)
	}
	if *got.Width != 1920 || *got.Height != 1280 {
		t.Errorf("dimensions = %dx%d, want 1920x1280", *got.Width, *got.Height)
	}
}

func TestProcessConversionSkipsRegisteredKey(t *testing.T) {
	env := setup(t)
	// Registered by another item but not yet written to the backend.
	env.seed(t, "g/b.jpg", "image/jpeg", nil)
	item := env.seed(t, "g/b.png", "image/png", encodeImage(t, 20, 20, "png"))

	env.worker.Process(context.Background(), item.ID)

	if got := env.get(t, item.ID); got.StorageKey != "g/b_1.jpg" {
		t.Errorf("key = %s, want g/b_1.jpg", got.StorageKey)
	}
}

func TestProcessCompletesAfterCancelMidConversion(t *testing.T) {
	env := setup(t)
	hb := env.hooked(t)
	item := env.seed(t, "g/c.png", "image/png", encodeImage(t, 40, 30, "png"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hb.afterDelete = func(key string) {
		if key == item.StorageKey {
			cancel()
		}
	}

	env.worker.Process(ctx, item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady || got.StorageKey != "g/c.jpg" {
		t.Fatalf("item = %s %s, want ready g/c.jpg", got.Status, got.StorageKey)
	}
	if env.exists(t, "g/c.png") || !env.exists(t, "g/c.jpg") {
		t.Error("objects do not match the committed row")
	}
}

func TestProcessIgnoresConcurrentDuplicate(t *testing.T) {
	env := setup(t)
	hb := env.hooked(t)
	item := env.seed(t, "g/d.png", "image/png", encodeImage(t, 40, 30, "png"))

	hb.afterDelete = func(key string) {
		if key == item.StorageKey {
			env.worker.Process(context.Background(), item.ID)
		}
	}

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady || got.StorageKey != "g/d.jpg" {
		t.Errorf("item = %s %s, want ready g/d.jpg", got.Status, got.StorageKey)
	}
}

func TestProcessYieldsToFinishedAttempt(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/e.png", "image/png", encodeImage(t, 40, 30, "png"))

	// first stands in for another worker process sharing the registry and
	// the bucket. It finishes while second is about to fetch.
	first := New(env.db, env.backend, env.frames, Config{ScratchDir: t.TempDir()})
	hb := &hookBackend{LocalBackend: env.backend}
	second := New(env.db, hb, env.frames, Config{ScratchDir: t.TempDir()})
	hb.beforeOpen = func(string) {
		first.Process(context.Background(), item.ID)
	}

	second.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady || got.StorageKey != "g/e.jpg" {
		t.Errorf("item = %s %s, want ready g/e.jpg", got.Status, got.StorageKey)
	}
	if env.exists(t, "g/e_1.jpg") {
		t.Error("second attempt wrote a converted object")
	}
}

func TestProcessStaleResultRemovesOutputs(t *testing.T) {
	env := setup(t)
	hb := env.hooked(t)
	item := env.seed(t, "g/f.png", "image/png", encodeImage(t, 40, 30, "png"))

	hb.afterDelete = func(key string) {
		if key == item.StorageKey {
			if err := env.db.MarkProcessingError(context.Background(), item.ID); err != nil {
				t.Error(err)
			}
		}
	}

	env.worker.Process(context.Background(), item.ID)

	if got := env.get(t, item.ID); got.Status != database.StatusError {
		t.Errorf("Status = %s, want the concurrent error to stand", got.Status)
	}
	if env.exists(t, "g/f.jpg") {
		t.Error("uncommitted converted object was left behind")
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/a.png", "image/png", encodeImage(t, 40, 30, "png"))

	env.worker.Process(context.Background(), item.ID)
	first := env.get(t, item.ID)

	env.worker.Process(context.Background(), item.ID)
	second := env.get(t, item.ID)

	if first.StorageKey != second.StorageKey || first.MimeType != second.MimeType ||
		*first.Width != *second.Width || !first.ProcessedAt.Equal(*second.ProcessedAt) {
		t.Errorf("reprocessing changed the item: %+v -> %+v", first, second)
	}
	if env.exists(t, "g/a_1.jpg") {
		t.Error("reprocessing produced a second converted object")
	}
}

func TestProcessVideoThumbnail(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "galleries/2024/05/clip.mp4", "video/mp4", []byte("not really a video"))

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady {
		t.Fatalf("Status = %s, want ready", got.Status)
	}
	if got.ThumbnailKey == nil || *got.ThumbnailKey != "galleries/2024/05/thumbs/clip_thumb.jpg" {
		t.Fatalf("ThumbnailKey = %v", got.ThumbnailKey)
	}
	if !env.exists(t, *got.ThumbnailKey) {
		t.Error("thumbnail object missing")
	}
	if got.MimeType != "video/mp4" || got.StorageKey != item.StorageKey {
		t.Errorf("video key/mime changed: %s %s", got.StorageKey, got.MimeType)
	}
	if got.Width != nil {
		t.Error("video dimensions should stay empty")
	}
}

func TestProcessVideoThumbnailsDoNotCollide(t *testing.T) {
	env := setup(t)
	mp4 := env.seed(t, "g/clip.mp4", "video/mp4", []byte("mp4"))
	mov := env.seed(t, "g/clip.mov", "video/quicktime", []byte("mov"))

	env.worker.Process(context.Background(), mp4.ID)
	env.worker.Process(context.Background(), mov.ID)

	a, b := env.get(t, mp4.ID), env.get(t, mov.ID)
	if a.ThumbnailKey == nil || *a.ThumbnailKey != "g/thumbs/clip_thumb.jpg" {
		t.Errorf("mp4 ThumbnailKey = %v", a.ThumbnailKey)
	}
	if b.ThumbnailKey == nil || *b.ThumbnailKey != "g/thumbs/clip_thumb_1.jpg" {
		t.Errorf("mov ThumbnailKey = %v", b.ThumbnailKey)
	}
}

func TestProcessVideoWithoutThumbnail(t *testing.T) {
	env := setup(t)
	env.frames.err = errors.New("ffmpeg exited 1")
	item := env.seed(t, "g/clip.mov", "video/quicktime", []byte("mov"))

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusReady {
		t.Errorf("Status = %s, want ready even without a thumbnail", got.Status)
	}
	if got.ThumbnailKey != nil {
		t.Errorf("ThumbnailKey = %s, want none", *got.ThumbnailKey)
	}
}

func TestProcessKindFallsBackToExtension(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/clip.mkv", "application/octet-stream", []byte("mkv"))

	env.worker.Process(context.Background(), item.ID)

	if env.frames.calls != 1 {
		t.Errorf("frame extractor called %d times, want 1", env.frames.calls)
	}
	if got := env.get(t, item.ID); got.Status != database.StatusReady {
		t.Errorf("Status = %s, want ready", got.Status)
	}
}

func TestProcessMissingAsset(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/gone.jpg", "image/jpeg", nil)

	env.worker.Process(context.Background(), item.ID)

	if got := env.get(t, item.ID); got.Status != database.StatusError {
		t.Errorf("Status = %s, want error", got.Status)
	}
}

func TestProcessUndecodableImage(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/broken.jpg", "image/jpeg", []byte("garbage bytes"))

	env.worker.Process(context.Background(), item.ID)

	got := env.get(t, item.ID)
	if got.Status != database.StatusError {
		t.Errorf("Status = %s, want error", got.Status)
	}
	if got.Width != nil || got.CapturedAt != nil {
		t.Error("error items keep derived fields empty")
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	env := setup(t)
	env.frames.panic = true
	item := env.seed(t, "g/clip.mp4", "video/mp4", []byte("mp4"))

	env.worker.Process(context.Background(), item.ID)

	if got := env.get(t, item.ID); got.Status != database.StatusError {
		t.Errorf("Status = %s, want error after panic", got.Status)
	}
}

func TestProcessUnknownItem(t *testing.T) {
	env := setup(t)
	// Must not panic or create anything.
	env.worker.Process(context.Background(), "does-not-exist")
}

func TestProcessErrorItemIsNotRetried(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/a.jpg", "image/jpeg", encodeImage(t, 10, 10, "jpeg"))
	if err := env.db.MarkProcessingError(context.Background(), item.ID); err != nil {
		t.Fatal(err)
	}

	env.worker.Process(context.Background(), item.ID)

	if got := env.get(t, item.ID); got.Status != database.StatusError {
		t.Errorf("Status = %s, want error to stay terminal", got.Status)
	}
}

func TestThumbnailKey(t *testing.T) {
	tests := map[string]string{
		"galleries/2024/05/clip.mp4": "galleries/2024/05/thumbs/clip_thumb.jpg",
		"clip.mov":                   "thumbs/clip_thumb.jpg",
		"a/b.c.webm":                 "a/thumbs/b.c_thumb.jpg",
	}
	for in, want := range tests {
		if got := ThumbnailKey(in); got != want {
			t.Errorf("ThumbnailKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScratchDirCleanedUp(t *testing.T) {
	env := setup(t)
	item := env.seed(t, "g/a.jpg", "image/jpeg", encodeImage(t, 10, 10, "jpeg"))

	env.worker.Process(context.Background(), item.ID)

	entries, err := os.ReadDir(env.worker.scratchDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir has %d leftover entries", len(entries))
	}
}
