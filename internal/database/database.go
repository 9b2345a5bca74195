package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"family-gallery/internal/logging"
	"family-gallery/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotProcessing is returned when a terminal transition targets an item
	// that has already left the processing state.
	ErrNotProcessing = errors.New("media item is not processing")
)

// Database is the media registry: media items, favorites, users and sessions.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New opens (creating if needed) the SQLite database at dbPath and applies
// the schema. The parent directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token_hash TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	-- One row per uploaded asset. Derived fields stay NULL until the
	-- processing worker's single terminal update.
	CREATE TABLE IF NOT EXISTS media_items (
		id TEXT PRIMARY KEY,
		uploader_id TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('image', 'video')),
		file_size_bytes INTEGER NOT NULL,
		description TEXT,
		width INTEGER,
		height INTEGER,
		captured_at TEXT,
		thumbnail_key TEXT,
		status TEXT NOT NULL CHECK (status IN ('processing', 'ready', 'error')),
		created_at INTEGER NOT NULL,
		processed_at INTEGER
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_media_storage_key ON media_items(storage_key);
	CREATE INDEX IF NOT EXISTS idx_media_thumbnail_key ON media_items(thumbnail_key);
	CREATE INDEX IF NOT EXISTS idx_media_created ON media_items(created_at);
	CREATE INDEX IF NOT EXISTS idx_media_captured ON media_items(captured_at);
	CREATE INDEX IF NOT EXISTS idx_media_uploader ON media_items(uploader_id);
	CREATE INDEX IF NOT EXISTS idx_media_kind_status ON media_items(kind, status);

	CREATE TABLE IF NOT EXISTS favorites (
		user_id TEXT NOT NULL,
		media_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, media_id),
		FOREIGN KEY (media_id) REFERENCES media_items(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_favorites_media ON favorites(media_id);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return d.runMigrations(ctx)
}

// runMigrations applies additive column changes to databases created by
// earlier versions.
func (d *Database) runMigrations(ctx context.Context) error {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info('media_items') WHERE name = 'processed_at'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to inspect media_items: %w", err)
	}
	if count == 0 {
		logging.Info("Adding processed_at column to media_items")
		if _, err := d.db.ExecContext(ctx, "ALTER TABLE media_items ADD COLUMN processed_at INTEGER"); err != nil {
			return fmt.Errorf("failed to add processed_at: %w", err)
		}
	}
	_, err = d.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES ('schema_version', '2') ON CONFLICT(key) DO UPDATE SET value = excluded.value")
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Ping verifies the database is reachable, for readiness checks.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// recordQuery records metrics for a database query.
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// newID returns a time-ordered identifier.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := time.UnixMilli(ni.Int64).UTC()
	return &t
}
