package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"family-gallery/internal/database"
	"family-gallery/internal/ingest"
	"family-gallery/internal/library"
	"family-gallery/internal/logging"
	"family-gallery/internal/storage"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding errors are logged since the status line has already gone out.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response with a machine-readable code.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps domain errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidFileKind):
		writeJSONError(w, http.StatusBadRequest, "InvalidFileKind", "Only image and video files are accepted")
	case errors.Is(err, ingest.ErrEmptyFile):
		writeJSONError(w, http.StatusBadRequest, "EmptyFile", "Uploaded file is empty")
	case errors.Is(err, ingest.ErrFileTooLarge):
		writeJSONError(w, http.StatusRequestEntityTooLarge, "FileTooLarge", "Uploaded file exceeds the size limit")
	case errors.Is(err, ingest.ErrStorageWrite):
		writeJSONError(w, http.StatusInternalServerError, "StorageWriteFailed", "Failed to store the upload")
	case errors.Is(err, database.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, library.ErrNoThumbnail):
		writeJSONError(w, http.StatusNotFound, "NotFound", "Media item not found")
	case errors.Is(err, library.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "Forbidden", "You may only modify your own uploads")
	default:
		logging.Error("Request failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "InternalError", "Internal server error")
	}
}
