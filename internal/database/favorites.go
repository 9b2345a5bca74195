package database

import (
	"context"
	"fmt"
	"time"
)

// ToggleFavorite flips the favorite flag of mediaID for userID and returns
// the new state.
func (d *Database) ToggleFavorite(ctx context.Context, userID, mediaID string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("toggle_favorite", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_items WHERE id = ?", mediaID).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		err = ErrNotFound
		return false, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM favorites WHERE user_id = ? AND media_id = ?", userID, mediaID)
	if err != nil {
		return false, fmt.Errorf("failed to remove favorite: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	favorite := removed == 0
	if favorite {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO favorites (user_id, media_id, created_at) VALUES (?, ?, ?)",
			userID, mediaID, time.Now().Unix())
		if err != nil {
			return false, fmt.Errorf("failed to add favorite: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return favorite, nil
}

// IsFavorite reports whether userID has favorited mediaID.
func (d *Database) IsFavorite(ctx context.Context, userID, mediaID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM favorites WHERE user_id = ? AND media_id = ?", userID, mediaID).Scan(&count)
	return count > 0, err
}
