package database

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"family-gallery/internal/mediatypes"
)

func init() {
	bcryptCost = bcrypt.MinCost
}

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *Database, email string, role Role) *User {
	t.Helper()
	u, err := db.CreateUser(context.Background(), email, "User "+email, "password123", role)
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", email, err)
	}
	return u
}

func insertItem(t *testing.T, db *Database, uploader, key string, kind mediatypes.Kind, created time.Time) *MediaItem {
	t.Helper()
	mime := "image/jpeg"
	if kind == mediatypes.KindVideo {
		mime = "video/mp4"
	}
	item := &MediaItem{
		UploaderID:       uploader,
		StorageKey:       key,
		OriginalFilename: filepath.Base(key),
		MimeType:         mime,
		Kind:             kind,
		FileSizeBytes:    100,
		CreatedAt:        created,
	}
	if err := db.CreateMediaItem(context.Background(), item); err != nil {
		t.Fatalf("CreateMediaItem(%s) error = %v", key, err)
	}
	return item
}

func TestNewCreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gallery.db")
	db, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
	db.Close()

	// Reopening an existing database must be a no-op migration.
	db, err = New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	db.Close()
}

func TestNewInvalidPath(t *testing.T) {
	if _, err := New(context.Background(), filepath.Join(t.TempDir(), "missing", "dir", "x.db")); err == nil {
		t.Error("New() with missing parent directory should fail")
	}
}

func TestCreateAndGetMediaItem(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "anna@example.com", RoleMember)

	desc := "beach day"
	item := &MediaItem{
		UploaderID:       u.ID,
		StorageKey:       "galleries/2024/05/beach.jpg",
		OriginalFilename: "beach.jpg",
		MimeType:         "image/jpeg",
		Kind:             mediatypes.KindImage,
		FileSizeBytes:    2048,
		Description:      &desc,
	}
	if err := db.CreateMediaItem(ctx, item); err != nil {
		t.Fatalf("CreateMediaItem() error = %v", err)
	}
	if item.ID == "" {
		t.Fatal("CreateMediaItem() did not assign an ID")
	}

	got, err := db.GetMediaItem(ctx, item.ID, u.ID)
	if err != nil {
		t.Fatalf("GetMediaItem() error = %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("Status = %q, want processing", got.Status)
	}
	if got.UploaderName != u.DisplayName {
		t.Errorf("UploaderName = %q, want %q", got.UploaderName, u.DisplayName)
	}
	if got.Description == nil || *got.Description != desc {
		t.Errorf("Description = %v", got.Description)
	}
	if got.Width != nil || got.Height != nil || got.CapturedAt != nil || got.ThumbnailKey != nil || got.ProcessedAt != nil {
		t.Error("derived fields should be empty before processing")
	}
	if got.IsFavorite {
		t.Error("IsFavorite should be false")
	}

	if _, err := db.GetMediaItem(ctx, "nope", u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMediaItem(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStorageKeyUnique(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "a@example.com", RoleMember)
	insertItem(t, db, u.ID, "g/cat.jpg", mediatypes.KindImage, time.Now())

	dup := &MediaItem{UploaderID: u.ID, StorageKey: "g/cat.jpg", OriginalFilename: "cat.jpg", MimeType: "image/jpeg", Kind: mediatypes.KindImage}
	if err := db.CreateMediaItem(context.Background(), dup); err == nil {
		t.Error("duplicate storage key should be rejected")
	}

	if ok, err := db.KeyInUse(context.Background(), "g/cat.jpg"); err != nil || !ok {
		t.Errorf("KeyInUse() = %v, %v", ok, err)
	}
	if ok, _ := db.KeyInUse(context.Background(), "g/dog.jpg"); ok {
		t.Error("KeyInUse(free key) = true")
	}
}

func TestKeyInUseCoversThumbnails(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "a@example.com", RoleMember)
	item := insertItem(t, db, u.ID, "g/clip.mp4", mediatypes.KindVideo, time.Now())

	thumb := "g/thumbs/clip_thumb.jpg"
	if ok, _ := db.KeyInUse(ctx, thumb); ok {
		t.Fatal("KeyInUse(thumbnail) = true before processing")
	}
	if err := db.CompleteProcessing(ctx, item.ID, ProcessingResult{StorageKey: item.StorageKey, MimeType: "video/mp4", ThumbnailKey: &thumb}); err != nil {
		t.Fatal(err)
	}
	if ok, err := db.KeyInUse(ctx, thumb); err != nil || !ok {
		t.Errorf("KeyInUse(thumbnail) = %v, %v, want true", ok, err)
	}
}

func TestCompleteProcessing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "a@example.com", RoleMember)
	item := insertItem(t, db, u.ID, "g/IMG_1.heic", mediatypes.KindImage, time.Now())

	w, h := 1920, 1280
	captured := "2024-05-01T10:11:12"
	res := ProcessingResult{
		StorageKey: "g/IMG_1.jpg",
		MimeType:   "image/jpeg",
		Width:      &w,
		Height:     &h,
		CapturedAt: &captured,
	}
	if err := db.CompleteProcessing(ctx, item.ID, res); err != nil {
		t.Fatalf("CompleteProcessing() error = %v", err)
	}

	got, err := db.GetMediaItem(ctx, item.ID, "")
	if err != nil {
		t.Fatalf("GetMediaItem() error = %v", err)
	}
	if got.Status != StatusReady || got.StorageKey != "g/IMG_1.jpg" || got.MimeType != "image/jpeg" {
		t.Errorf("got status=%s key=%s mime=%s", got.Status, got.StorageKey, got.MimeType)
	}
	if *got.Width != 1920 || *got.Height != 1280 || *got.CapturedAt != captured {
		t.Errorf("got %dx%d captured=%s", *got.Width, *got.Height, *got.CapturedAt)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	if err := db.CompleteProcessing(ctx, item.ID, res); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("second CompleteProcessing() error = %v, want ErrNotProcessing", err)
	}
	if err := db.MarkProcessingError(ctx, item.ID); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("MarkProcessingError() on ready item error = %v, want ErrNotProcessing", err)
	}
	if err := db.CompleteProcessing(ctx, "missing", res); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteProcessing(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMarkProcessingError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "a@example.com", RoleMember)
	item := insertItem(t, db, u.ID, "g/a.mp4", mediatypes.KindVideo, time.Now())

	if err := db.MarkProcessingError(ctx, item.ID); err != nil {
		t.Fatalf("MarkProcessingError() error = %v", err)
	}
	got, _ := db.GetMediaItem(ctx, item.ID, "")
	if got.Status != StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.Width != nil {
		t.Error("error items keep derived fields empty")
	}
}

func TestDeleteMediaItem(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "a@example.com", RoleMember)
	item := insertItem(t, db, u.ID, "g/a.jpg", mediatypes.KindImage, time.Now())

	if _, err := db.ToggleFavorite(ctx, u.ID, item.ID); err != nil {
		t.Fatalf("ToggleFavorite() error = %v", err)
	}
	if err := db.DeleteMediaItem(ctx, item.ID); err != nil {
		t.Fatalf("DeleteMediaItem() error = %v", err)
	}
	if _, err := db.GetMediaItem(ctx, item.ID, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMediaItem() after delete error = %v", err)
	}
	if fav, _ := db.IsFavorite(ctx, u.ID, item.ID); fav {
		t.Error("favorite should cascade on delete")
	}
	if err := db.DeleteMediaItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteMediaItem() error = %v, want ErrNotFound", err)
	}
}

func TestListStuckProcessing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "a@example.com", RoleMember)
	now := time.Now()

	old := insertItem(t, db, u.ID, "g/old.jpg", mediatypes.KindImage, now.Add(-2*time.Hour))
	insertItem(t, db, u.ID, "g/new.jpg", mediatypes.KindImage, now)
	done := insertItem(t, db, u.ID, "g/done.jpg", mediatypes.KindImage, now.Add(-3*time.Hour))
	if err := db.MarkProcessingError(ctx, done.ID); err != nil {
		t.Fatal(err)
	}

	items, err := db.ListStuckProcessing(ctx, now.Add(-30*time.Minute), 0)
	if err != nil {
		t.Fatalf("ListStuckProcessing() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != old.ID {
		t.Errorf("ListStuckProcessing() = %+v, want only %s", items, old.ID)
	}
}

func TestGetStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "a@example.com", RoleMember)
	a := insertItem(t, db, u.ID, "g/a.jpg", mediatypes.KindImage, time.Now())
	insertItem(t, db, u.ID, "g/b.jpg", mediatypes.KindImage, time.Now())
	insertItem(t, db, u.ID, "g/c.mp4", mediatypes.KindVideo, time.Now())
	if _, err := db.ToggleFavorite(ctx, u.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateSession(ctx, u.ID, time.Hour); err != nil {
		t.Fatal(err)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Items["image"]["processing"] != 2 || stats.Items["video"]["processing"] != 1 {
		t.Errorf("Items = %v", stats.Items)
	}
	if stats.TotalBytes != 300 {
		t.Errorf("TotalBytes = %d, want 300", stats.TotalBytes)
	}
	if stats.Favorites != 1 || stats.ActiveSessions != 1 {
		t.Errorf("Favorites = %d, ActiveSessions = %d", stats.Favorites, stats.ActiveSessions)
	}
}

func TestMediaItemJSONUnsetFieldsAreNull(t *testing.T) {
	item := MediaItem{ID: "m1", StorageKey: "g/clip.mp4", Kind: mediatypes.KindVideo, Status: StatusProcessing}
	data, err := json.Marshal(item)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"description", "width", "height", "capturedAt", "thumbnailPath", "processedAt"} {
		if !strings.Contains(string(data), `"`+field+`":null`) {
			t.Errorf("%s missing or not null in %s", field, data)
		}
	}
}
