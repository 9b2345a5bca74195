package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"family-gallery/internal/database"
	"family-gallery/internal/ingest"
	"family-gallery/internal/logging"
	"family-gallery/internal/mediatypes"
	"family-gallery/internal/streaming"
)

const (
	// maxFilesPerUpload caps the number of files in one request.
	maxFilesPerUpload = 50
	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to temporary files.
	multipartMemory = 32 << 20
	// multipartOverhead allows for boundaries and form fields on top of the
	// file bytes.
	multipartOverhead = 1 << 20
)

// UploadResponse lists the items created by an upload.
type UploadResponse struct {
	Items []*database.MediaItem `json:"items"`
}

// UploadMedia accepts one or more "file" parts with optional parallel
// "description" fields. Every filename is validated before anything is
// stored, so a rejected batch leaves no trace.
func (h *Handlers) UploadMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFromContext(ctx)

	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Now().Add(h.uploadTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.Warn("Failed to extend upload read deadline: %v", err)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.ingest.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, ingest.ErrFileTooLarge)
			return
		}
		writeJSONError(w, http.StatusBadRequest, "InvalidRequest", "Expected a multipart/form-data body")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.Warn("Failed to remove multipart temp files: %v", err)
		}
	}()

	files := r.MultipartForm.File["file"]
	switch {
	case len(files) == 0:
		writeJSONError(w, http.StatusBadRequest, "NoFiles", "No files in request")
		return
	case len(files) > maxFilesPerUpload:
		writeJSONError(w, http.StatusBadRequest, "TooManyFiles", "Too many files in one request")
		return
	}

	for _, fh := range files {
		if err := ingest.Validate(fh.Filename); err != nil {
			logging.Warn("Rejected upload batch from %s: %q is not an accepted type", user.Email, fh.Filename)
			writeServiceError(w, err)
			return
		}
		if fh.Size > h.ingest.MaxUploadBytes() {
			writeServiceError(w, ingest.ErrFileTooLarge)
			return
		}
	}

	descriptions := r.MultipartForm.Value["description"]
	items := make([]*database.MediaItem, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeServiceError(w, err)
			return
		}

		var desc *string
		if i < len(descriptions) {
			desc = &descriptions[i]
		}

		item, err := h.ingest.Ingest(ctx, ingest.Upload{
			Reader:      f,
			Filename:    fh.Filename,
			UploaderID:  user.ID,
			Description: desc,
		})
		f.Close()
		if err != nil {
			logging.Error("Upload of %q by %s failed after %d of %d files: %v", fh.Filename, user.Email, len(items), len(files), err)
			writeServiceError(w, err)
			return
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusCreated, UploadResponse{Items: items})
}

// ListMedia returns one page of the feed.
func (h *Handlers) ListMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := UserFromContext(r.Context())

	opts := database.ListOptions{
		Filter:   mediatypes.ParseFilter(q.Get("filter")),
		Sort:     mediatypes.ParseSort(q.Get("sort")),
		ViewerID: user.ID,
		Page:     1,
		PageSize: database.DefaultPageSize,
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		opts.Page = page
	}
	if size, err := strconv.Atoi(q.Get("pageSize")); err == nil && size > 0 {
		opts.PageSize = size
	}
	if s := q.Get("status"); s != "" {
		opts.Status = database.MediaStatus(s)
		if !opts.Status.Valid() {
			writeJSONError(w, http.StatusBadRequest, "InvalidStatus", "status must be processing, ready or error")
			return
		}
	}

	page, err := h.library.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if page.Items == nil {
		page.Items = []database.MediaItem{}
	}
	writeJSON(w, http.StatusOK, page)
}

// GetMedia returns the details of one item.
func (h *Handlers) GetMedia(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	item, err := h.library.Get(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteMedia removes an item owned by the caller, or any item for admins.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	if err := h.library.Delete(r.Context(), mux.Vars(r)["id"], UserFromContext(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFile serves the item's stored object.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	h.serveObject(w, r, false)
}

// GetThumbnail serves a video's thumbnail or an image itself.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveObject(w, r, true)
}

func (h *Handlers) serveObject(w http.ResponseWriter, r *http.Request, thumbnail bool) {
	ctx := r.Context()
	item, err := h.library.Get(ctx, mux.Vars(r)["id"], "")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	loc, err := h.library.FileLocation(ctx, item, thumbnail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if loc.URL != "" {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, loc.URL, http.StatusFound)
		return
	}
	defer loc.Object.Close()

	contentType := item.MimeType
	if thumbnail && item.ThumbnailKey != nil {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if !thumbnail {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": item.OriginalFilename}))
	}

	if rs, ok := loc.Object.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(loc.Key), loc.Object.ModTime, rs)
		return
	}
	if loc.Object.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(loc.Object.Size, 10))
	}
	if r.Method == http.MethodHead {
		return
	}
	if n, err := streaming.Copy(ctx, w, loc.Object.Body, streaming.DefaultConfig()); err != nil {
		logging.Debug("Streaming %s stopped after %d bytes: %v", loc.Key, n, err)
	}
}
