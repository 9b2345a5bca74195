package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"family-gallery/internal/mediatypes"
	"family-gallery/internal/metrics"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const mediaColumns = `
	m.id, m.uploader_id, COALESCE(u.display_name, ''), m.storage_key,
	m.original_filename, m.mime_type, m.kind, m.file_size_bytes,
	m.description, m.width, m.height, m.captured_at, m.thumbnail_key,
	m.status, m.created_at, m.processed_at,
	CASE WHEN f.user_id IS NULL THEN 0 ELSE 1 END`

// mediaFrom joins the uploader name and the viewer's favorite flag. The
// first bind parameter is the viewer ID.
const mediaFrom = `
	FROM media_items m
	LEFT JOIN users u ON u.id = m.uploader_id
	LEFT JOIN favorites f ON f.media_id = m.id AND f.user_id = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaItem(row rowScanner) (*MediaItem, error) {
	var (
		item        MediaItem
		kind        string
		status      string
		description sql.NullString
		width       sql.NullInt64
		height      sql.NullInt64
		capturedAt  sql.NullString
		thumbKey    sql.NullString
		createdAt   int64
		processedAt sql.NullInt64
		favorite    int
	)

	err := row.Scan(
		&item.ID, &item.UploaderID, &item.UploaderName, &item.StorageKey,
		&item.OriginalFilename, &item.MimeType, &kind, &item.FileSizeBytes,
		&description, &width, &height, &capturedAt, &thumbKey,
		&status, &createdAt, &processedAt, &favorite,
	)
	if err != nil {
		return nil, err
	}

	item.Kind = mediatypes.Kind(kind)
	item.Status = MediaStatus(status)
	item.Description = stringPtr(description)
	item.Width = intPtr(width)
	item.Height = intPtr(height)
	item.CapturedAt = stringPtr(capturedAt)
	item.ThumbnailKey = stringPtr(thumbKey)
	item.CreatedAt = time.UnixMilli(createdAt).UTC()
	item.ProcessedAt = timePtr(processedAt)
	item.IsFavorite = favorite == 1
	return &item, nil
}

// CreateMediaItem inserts a new item in the processing state. An empty ID is
// replaced with a fresh UUIDv7; CreatedAt defaults to now. The stored row
// is written back into item.
func (d *Database) CreateMediaItem(ctx context.Context, item *MediaItem) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_media_item", start, err) }()

	if item.ID == "" {
		if item.ID, err = newID(); err != nil {
			return err
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Status = StatusProcessing

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO media_items (
			id, uploader_id, storage_key, original_filename, mime_type, kind,
			file_size_bytes, description, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UploaderID, item.StorageKey, item.OriginalFilename, item.MimeType,
		string(item.Kind), item.FileSizeBytes, nullString(item.Description),
		string(StatusProcessing), item.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert media item: %w", err)
	}
	return nil
}

// GetMediaItem returns one item with IsFavorite computed for viewerID.
func (d *Database) GetMediaItem(ctx context.Context, id, viewerID string) (*MediaItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_media_item", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRowContext(ctx,
		"SELECT "+mediaColumns+mediaFrom+" WHERE m.id = ?", viewerID, id)

	var item *MediaItem
	item, err = scanMediaItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media item: %w", err)
	}
	return item, nil
}

// CompleteProcessing moves an item from processing to ready, writing every
// derived field in a single statement. It returns ErrNotProcessing when the
// item has already reached a terminal state and ErrNotFound when it is gone.
func (d *Database) CompleteProcessing(ctx context.Context, id string, res ProcessingResult) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("complete_processing", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, `
		UPDATE media_items SET
			status = ?, storage_key = ?, mime_type = ?, width = ?, height = ?,
			captured_at = ?, thumbnail_key = ?, processed_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusReady), res.StorageKey, res.MimeType, nullInt(res.Width), nullInt(res.Height),
		nullString(res.CapturedAt), nullString(res.ThumbnailKey), time.Now().UnixMilli(),
		id, string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete processing: %w", err)
	}
	err = d.checkTransition(ctx, result, id)
	return err
}

// MarkProcessingError moves an item from processing to error.
func (d *Database) MarkProcessingError(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_processing_error", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	var result sql.Result
	result, err = d.db.ExecContext(ctx,
		"UPDATE media_items SET status = ?, processed_at = ? WHERE id = ? AND status = ?",
		string(StatusError), time.Now().UnixMilli(), id, string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark processing error: %w", err)
	}
	err = d.checkTransition(ctx, result, id)
	return err
}

// checkTransition explains a guarded update that touched no rows.
// Callers hold d.mu.
func (d *Database) checkTransition(ctx context.Context, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = d.db.QueryRowContext(ctx, "SELECT 1 FROM media_items WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrNotProcessing
}

// DeleteMediaItem removes the row and its favorites.
func (d *Database) DeleteMediaItem(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_media_item", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, "DELETE FROM media_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete media item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = ErrNotFound
		return err
	}
	return nil
}

// KeyInUse reports whether any row references key as its object or its
// thumbnail.
func (d *Database) KeyInUse(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("key_in_use", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_items WHERE storage_key = ? OR thumbnail_key = ?", key, key).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMedia returns one page of the feed.
func (d *Database) ListMedia(ctx context.Context, opts ListOptions) (*MediaPage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_media", start, err) }()

	if opts.Filter == "" {
		opts.Filter = mediatypes.FilterAll
	}
	if opts.Sort == "" {
		opts.Sort = mediatypes.SortCreatedDesc
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}

	where, args := buildMediaWhere(opts)
	orderBy := mediaOrderBy(opts.Sort)

	d.mu.RLock()
	defer d.mu.RUnlock()

	countArgs := append([]any{opts.ViewerID}, args...)
	var total int
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*)"+mediaFrom+where, countArgs...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count media: %w", err)
	}

	offset := (opts.Page - 1) * opts.PageSize
	queryArgs := append(countArgs, opts.PageSize, offset)

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx,
		"SELECT "+mediaColumns+mediaFrom+where+" ORDER BY "+orderBy+" LIMIT ? OFFSET ?",
		queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	defer rows.Close()

	items := make([]MediaItem, 0, opts.PageSize)
	for rows.Next() {
		var item *MediaItem
		item, err = scanMediaItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media item: %w", err)
		}
		items = append(items, *item)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	totalPages := (total + opts.PageSize - 1) / opts.PageSize
	if totalPages == 0 {
		totalPages = 1
	}

	return &MediaPage{
		Items:      items,
		Filter:     opts.Filter,
		Sort:       opts.Sort,
		TotalItems: total,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalPages: totalPages,
	}, nil
}

func buildMediaWhere(opts ListOptions) (string, []any) {
	var conds []string
	var args []any

	switch opts.Filter {
	case mediatypes.FilterImages:
		conds = append(conds, "m.kind = ?")
		args = append(args, string(mediatypes.KindImage))
	case mediatypes.FilterVideos:
		conds = append(conds, "m.kind = ?")
		args = append(args, string(mediatypes.KindVideo))
	case mediatypes.FilterMine:
		conds = append(conds, "m.uploader_id = ?")
		args = append(args, opts.ViewerID)
	case mediatypes.FilterFavorites:
		conds = append(conds, "f.user_id IS NOT NULL")
	}

	if opts.Status != "" {
		conds = append(conds, "m.status = ?")
		args = append(args, string(opts.Status))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// mediaOrderBy puts undated items last for capture-date sorts and breaks
// ties on creation time then ID so paging is stable.
func mediaOrderBy(s mediatypes.Sort) string {
	switch s {
	case mediatypes.SortCreatedAsc:
		return "m.created_at ASC, m.id ASC"
	case mediatypes.SortCapturedDesc:
		return "m.captured_at IS NULL, m.captured_at DESC, m.created_at DESC, m.id DESC"
	case mediatypes.SortCapturedAsc:
		return "m.captured_at IS NULL, m.captured_at ASC, m.created_at ASC, m.id ASC"
	default:
		return "m.created_at DESC, m.id DESC"
	}
}

// ListStuckProcessing returns items still processing that were created
// before cutoff, oldest first.
func (d *Database) ListStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]MediaItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_stuck_processing", start, err) }()

	if limit <= 0 {
		limit = 1000
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx,
		"SELECT "+mediaColumns+mediaFrom+" WHERE m.status = ? AND m.created_at < ? ORDER BY m.created_at ASC LIMIT ?",
		"", string(StatusProcessing), cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck items: %w", err)
	}
	defer rows.Close()

	var items []MediaItem
	for rows.Next() {
		var item *MediaItem
		item, err = scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	err = rows.Err()
	return items, err
}

// GetStats summarizes the library for the metrics collector.
func (d *Database) GetStats(ctx context.Context) (metrics.Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_stats", start, err) }()

	stats := metrics.Stats{Items: make(map[string]map[string]int)}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx,
		"SELECT kind, status, COUNT(*), COALESCE(SUM(file_size_bytes), 0) FROM media_items GROUP BY kind, status")
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind, status string
		var count int
		var bytes int64
		if err = rows.Scan(&kind, &status, &count, &bytes); err != nil {
			return stats, err
		}
		if stats.Items[kind] == nil {
			stats.Items[kind] = make(map[string]int)
		}
		stats.Items[kind][status] = count
		stats.TotalBytes += bytes
	}
	if err = rows.Err(); err != nil {
		return stats, err
	}

	if err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM favorites").Scan(&stats.Favorites); err != nil {
		return stats, err
	}
	err = d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE expires_at > ?", time.Now().Unix()).Scan(&stats.ActiveSessions)
	return stats, err
}
