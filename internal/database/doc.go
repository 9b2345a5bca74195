// Package database provides SQLite database operations for the gallery.
//
// It is the registry of:
//   - Media items and their processing lifecycle
//   - User accounts and authentication sessions
//   - Per-user favorites
//
// The database uses WAL mode for improved concurrent read performance
// and includes automatic schema initialization. Media status moves from
// processing to ready or error exactly once; the terminal updates are
// guarded on the current status.
package database
