package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/storage"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: 90, B: uint8(y * 8), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// mp4Bytes starts with an ISO base media "ftyp" box.
func mp4Bytes() []byte {
	data := []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")
	return append(data, bytes.Repeat([]byte{0}, 256)...)
}

func (s *testServer) upload(token string, parts ...filePart) *UploadResponse {
	s.t.Helper()
	body, ct := multipartBody(s.t, parts...)
	rec := s.do(http.MethodPost, "/api/media", token, body, ct)
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[UploadResponse](s.t, rec)
	return &resp
}

func (s *testServer) mediaCount() int {
	s.t.Helper()
	page, err := s.db.ListMedia(context.Background(), database.ListOptions{})
	if err != nil {
		s.t.Fatal(err)
	}
	return page.TotalItems
}

func TestUploadProcessesImage(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	resp := s.upload(s.memberToken, filePart{name: "Garden Party.png", data: pngBytes(t), description: "  grandma's roses "})
	if len(resp.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(resp.Items))
	}
	item := resp.Items[0]

	if item.Status != database.StatusReady {
		t.Errorf("status = %s, want ready", item.Status)
	}
	if !strings.HasSuffix(item.StorageKey, "/Garden_Party.jpg") || !strings.HasPrefix(item.StorageKey, "galleries/") {
		t.Errorf("storage key = %s", item.StorageKey)
	}
	if item.MimeType != "image/jpeg" {
		t.Errorf("mime = %s", item.MimeType)
	}
	if item.Width == nil || *item.Width != 40 || item.Height == nil || *item.Height != 30 {
		t.Errorf("dimensions = %v x %v", item.Width, item.Height)
	}
	if item.Description == nil || *item.Description != "grandma's roses" {
		t.Errorf("description = %v", item.Description)
	}
	if item.UploaderID != s.member.ID {
		t.Errorf("uploader = %s", item.UploaderID)
	}

	rec := s.do(http.MethodGet, "/api/media/"+item.ID+"/file", s.otherToken, http.NoBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("file = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte{0xFF, 0xD8}) {
		t.Error("file body is not a JPEG")
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Garden Party.png") {
		t.Errorf("Content-Disposition = %s", cd)
	}

	rec = s.do(http.MethodGet, "/api/media/"+item.ID+"/thumbnail", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusOK {
		t.Errorf("image thumbnail = %d, want 200", rec.Code)
	}
}

func TestUploadBatchWithDescriptions(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	resp := s.upload(s.memberToken,
		filePart{name: "a.png", data: pngBytes(t), description: "first"},
		filePart{name: "b.png", data: pngBytes(t), description: ""},
	)
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(resp.Items))
	}
	if d := resp.Items[0].Description; d == nil || *d != "first" {
		t.Errorf("first description = %v", d)
	}
	if d := resp.Items[1].Description; d != nil {
		t.Errorf("blank description stored as %q", *d)
	}
}

func TestUploadRejectsBatchWithInvalidKind(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	body, ct := multipartBody(t,
		filePart{name: "ok.png", data: pngBytes(t)},
		filePart{name: "setup.exe", data: []byte("MZ")},
	)
	rec := s.do(http.MethodPost, "/api/media", s.memberToken, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "InvalidFileKind" {
		t.Errorf("error = %q", got.Error)
	}
	if n := s.mediaCount(); n != 0 {
		t.Errorf("rejected batch created %d items", n)
	}
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, serverOptions{maxUploadBytes: 1024})

	t.Run("no files", func(t *testing.T) {
		body, ct := multipartBody(t)
		rec := s.do(http.MethodPost, "/api/media", s.memberToken, body, ct)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		rec := s.doJSON(http.MethodPost, "/api/media", s.memberToken, map[string]string{"file": "x"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		body, ct := multipartBody(t, filePart{name: "empty.jpg"})
		rec := s.do(http.MethodPost, "/api/media", s.memberToken, body, ct)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if got := decode[ErrorResponse](t, rec); got.Error != "EmptyFile" {
			t.Errorf("error = %q", got.Error)
		}
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := multipartBody(t, filePart{name: "big.jpg", data: bytes.Repeat([]byte{0xFF}, 4096)})
		rec := s.do(http.MethodPost, "/api/media", s.memberToken, body, ct)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
	})

	if n := s.mediaCount(); n != 0 {
		t.Errorf("failed uploads created %d items", n)
	}
}

func TestUploadOutlastsServerReadTimeout(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	srv := httptest.NewUnstartedServer(s.router)
	srv.Config.ReadTimeout = 300 * time.Millisecond
	srv.Start()
	defer srv.Close()

	body, ct := multipartBody(t, filePart{name: "slow.png", data: pngBytes(t)})
	data := body.Bytes()
	pr, pw := io.Pipe()
	go func() {
		half := len(data) / 2
		_, _ = pw.Write(data[:half])
		time.Sleep(time.Second)
		_, _ = pw.Write(data[half:])
		_ = pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/media", pr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", ct)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: s.memberToken})

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, msg)
	}
	if n := s.mediaCount(); n != 1 {
		t.Errorf("media count = %d, want 1", n)
	}
}

func TestVideoThumbnail(t *testing.T) {
	t.Run("extracted", func(t *testing.T) {
		s := newTestServer(t, serverOptions{})
		item := s.upload(s.memberToken, filePart{name: "clip.mp4", data: mp4Bytes()}).Items[0]

		if item.Status != database.StatusReady || item.ThumbnailKey == nil {
			t.Fatalf("item = %+v", item)
		}
		rec := s.do(http.MethodGet, "/api/media/"+item.ID+"/thumbnail", s.memberToken, http.NoBody, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("thumbnail = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Content-Type = %s", ct)
		}
		if rec.Body.String() != "frame" {
			t.Errorf("thumbnail body = %q", rec.Body.String())
		}
	})

	t.Run("extraction failed", func(t *testing.T) {
		s := newTestServer(t, serverOptions{frames: fakeFrames{err: errors.New("no video stream")}})
		item := s.upload(s.memberToken, filePart{name: "clip.mp4", data: mp4Bytes()}).Items[0]

		if item.Status != database.StatusReady || item.ThumbnailKey != nil {
			t.Fatalf("item = %+v", item)
		}
		rec := s.do(http.MethodGet, "/api/media/"+item.ID+"/thumbnail", s.memberToken, http.NoBody, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("thumbnail = %d, want 404", rec.Code)
		}
	})
}

func TestListMedia(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	mine := s.upload(s.memberToken, filePart{name: "mine.png", data: pngBytes(t)}).Items[0]
	s.upload(s.otherToken, filePart{name: "theirs.png", data: pngBytes(t)})

	rec := s.do(http.MethodGet, "/api/media", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if page := decode[database.MediaPage](t, rec); page.TotalItems != 2 || len(page.Items) != 2 {
		t.Errorf("all = %d items (%d on page)", page.TotalItems, len(page.Items))
	}

	rec = s.do(http.MethodGet, "/api/media?filter=mine", s.memberToken, http.NoBody, "")
	page := decode[database.MediaPage](t, rec)
	if page.TotalItems != 1 || page.Items[0].ID != mine.ID {
		t.Errorf("mine = %+v", page.Items)
	}

	rec = s.do(http.MethodGet, "/api/media?page=2&pageSize=1", s.memberToken, http.NoBody, "")
	page = decode[database.MediaPage](t, rec)
	if page.Page != 2 || page.PageSize != 1 || page.TotalPages != 2 || len(page.Items) != 1 {
		t.Errorf("paged = page %d size %d of %d with %d items", page.Page, page.PageSize, page.TotalPages, len(page.Items))
	}

	rec = s.do(http.MethodGet, "/api/media?filter=favorites", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("favorites = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("empty favorites body = %s", rec.Body.String())
	}

	rec = s.do(http.MethodGet, "/api/media?status=deleted", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status = %d, want 400", rec.Code)
	}
}

func TestFavoriteToggle(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	item := s.upload(s.otherToken, filePart{name: "sunset.png", data: pngBytes(t)}).Items[0]
	path := "/api/media/" + item.ID + "/favorite"

	for i, want := range []bool{true, false, true} {
		rec := s.do(http.MethodPost, path, s.memberToken, http.NoBody, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("toggle %d = %d", i, rec.Code)
		}
		if got := decode[FavoriteResponse](t, rec); got.IsFavorite != want || got.ID != item.ID {
			t.Errorf("toggle %d = %+v, want isFavorite %v", i, got, want)
		}
	}

	rec := s.do(http.MethodGet, "/api/media/"+item.ID, s.memberToken, http.NoBody, "")
	if got := decode[database.MediaItem](t, rec); !got.IsFavorite {
		t.Error("member should see the item as favorite")
	}
	rec = s.do(http.MethodGet, "/api/media/"+item.ID, s.otherToken, http.NoBody, "")
	if got := decode[database.MediaItem](t, rec); got.IsFavorite {
		t.Error("favorites leaked to another user")
	}

	if rec := s.do(http.MethodPost, "/api/media/missing/favorite", s.memberToken, http.NoBody, ""); rec.Code != http.StatusNotFound {
		t.Errorf("favorite missing item = %d, want 404", rec.Code)
	}
}

func TestDeleteMedia(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	first := s.upload(s.memberToken, filePart{name: "one.png", data: pngBytes(t)}).Items[0]
	second := s.upload(s.memberToken, filePart{name: "two.png", data: pngBytes(t)}).Items[0]

	rec := s.do(http.MethodDelete, "/api/media/"+first.ID, s.otherToken, http.NoBody, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("delete by other member = %d, want 403", rec.Code)
	}

	rec = s.do(http.MethodDelete, "/api/media/"+first.ID, s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete by owner = %d, want 204", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/media/"+first.ID, s.memberToken, http.NoBody, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", rec.Code)
	}
	if exists, _ := s.backend.Exists(context.Background(), first.StorageKey); exists {
		t.Error("deleted item's object still stored")
	}

	rec = s.do(http.MethodDelete, "/api/media/"+second.ID, s.adminToken, http.NoBody, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete by admin = %d, want 204", rec.Code)
	}
	if rec := s.do(http.MethodDelete, "/api/media/"+second.ID, s.adminToken, http.NoBody, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
}

func TestFileMissingItem(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(http.MethodGet, "/api/media/nope/file", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

type signingBackend struct {
	*storage.LocalBackend
}

func (signingBackend) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.example.test/" + key, nil
}

func TestFileRedirectsToSignedURL(t *testing.T) {
	s := newTestServer(t, serverOptions{
		backend: func(b *storage.LocalBackend) storage.Backend { return signingBackend{b} },
	})
	item := s.upload(s.memberToken, filePart{name: "beach.png", data: pngBytes(t)}).Items[0]

	rec := s.do(http.MethodGet, "/api/media/"+item.ID+"/file", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://cdn.example.test/"+item.StorageKey {
		t.Errorf("Location = %s", loc)
	}
}

// forwardOnlyBackend hides io.Seeker on object bodies, as remote stores do.
type forwardOnlyBackend struct {
	*storage.LocalBackend
}

func (b forwardOnlyBackend) Open(ctx context.Context, key string) (*storage.Object, error) {
	obj, err := b.LocalBackend.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	obj.Body = struct {
		io.Reader
		io.Closer
	}{obj.Body, obj.Body}
	return obj, nil
}

func TestFileStreamsForwardOnlyBody(t *testing.T) {
	s := newTestServer(t, serverOptions{
		backend: func(b *storage.LocalBackend) storage.Backend { return forwardOnlyBackend{b} },
	})
	item := s.upload(s.memberToken, filePart{name: "river.png", data: pngBytes(t)}).Items[0]

	rec := s.do(http.MethodGet, "/api/media/"+item.ID+"/file", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Length") != strconv.Itoa(rec.Body.Len()) {
		t.Errorf("Content-Length = %s, body %d bytes", rec.Header().Get("Content-Length"), rec.Body.Len())
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte{0xFF, 0xD8}) {
		t.Error("streamed body is not a JPEG")
	}

	rec = s.do(http.MethodHead, "/api/media/"+item.ID+"/file", s.memberToken, http.NoBody, "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("HEAD = %d with %d body bytes", rec.Code, rec.Body.Len())
	}
}
