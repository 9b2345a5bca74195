package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"family-gallery/internal/middleware"
)

// NewRouter registers the gallery API. Authentication runs as router
// middleware so the metrics middleware sees the matched route template.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	r.Use(h.AuthMiddleware)

	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	auth.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	auth.HandleFunc("/check", h.CheckAuth).Methods(http.MethodGet)
	auth.HandleFunc("/password", h.ChangePassword).Methods(http.MethodPost)

	api := r.PathPrefix("/api/media").Subrouter()
	api.HandleFunc("", h.UploadMedia).Methods(http.MethodPost)
	api.HandleFunc("", h.ListMedia).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.GetMedia).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.DeleteMedia).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/favorite", h.ToggleFavorite).Methods(http.MethodPost)
	api.HandleFunc("/{id}/file", h.GetFile).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/{id}/thumbnail", h.GetThumbnail).Methods(http.MethodGet, http.MethodHead)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "NotFound", "No such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not allowed")
	})

	return r
}
