package handlers

import (
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/dispatch"
	"family-gallery/internal/ingest"
	"family-gallery/internal/library"
	"family-gallery/internal/storage"
)

// Config holds the HTTP-layer settings.
type Config struct {
	SessionDuration time.Duration
	SecureCookies   bool
	// UploadReadTimeout replaces the server's read deadline for upload
	// bodies, which can take far longer than ordinary requests.
	UploadReadTimeout time.Duration
}

// DefaultUploadReadTimeout applies when Config.UploadReadTimeout is zero.
const DefaultUploadReadTimeout = time.Hour

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	db              *database.Database
	ingest          *ingest.Service
	library         *library.Library
	backend         storage.Backend
	dispatcher      dispatch.Dispatcher
	sessionDuration time.Duration
	secureCookies   bool
	uploadTimeout   time.Duration
	startTime       time.Time
}

// New wires the handlers. dispatcher is only consulted for health output.
func New(db *database.Database, ing *ingest.Service, lib *library.Library, backend storage.Backend, dispatcher dispatch.Dispatcher, cfg Config) *Handlers {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = database.DefaultSessionDuration
	}
	if cfg.UploadReadTimeout <= 0 {
		cfg.UploadReadTimeout = DefaultUploadReadTimeout
	}
	return &Handlers{
		db:              db,
		ingest:          ing,
		library:         lib,
		backend:         backend,
		dispatcher:      dispatcher,
		sessionDuration: cfg.SessionDuration,
		secureCookies:   cfg.SecureCookies,
		uploadTimeout:   cfg.UploadReadTimeout,
		startTime:       time.Now(),
	}
}
