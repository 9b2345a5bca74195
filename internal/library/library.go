package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/logging"
	"family-gallery/internal/mediatypes"
	"family-gallery/internal/metrics"
	"family-gallery/internal/storage"
)

// DefaultSignedURLTTL is how long a redirect URL stays valid.
const DefaultSignedURLTTL = 15 * time.Minute

var (
	// ErrForbidden is returned when the actor may not modify the item.
	ErrForbidden = errors.New("not allowed to modify this media item")
	// ErrNoThumbnail is returned for items without a displayable thumbnail.
	ErrNoThumbnail = errors.New("media item has no thumbnail")
)

// Store is the subset of the registry the library needs.
type Store interface {
	GetMediaItem(ctx context.Context, id, viewerID string) (*database.MediaItem, error)
	ListMedia(ctx context.Context, opts database.ListOptions) (*database.MediaPage, error)
	DeleteMediaItem(ctx context.Context, id string) error
	ToggleFavorite(ctx context.Context, userID, mediaID string) (bool, error)
}

// Library serves read, delete and favorite operations on registered media.
type Library struct {
	store        Store
	backend      storage.Backend
	signedURLTTL time.Duration
}

// New creates a Library. A zero ttl uses DefaultSignedURLTTL.
func New(store Store, backend storage.Backend, ttl time.Duration) *Library {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &Library{store: store, backend: backend, signedURLTTL: ttl}
}

// Get returns one item as seen by viewerID, or database.ErrNotFound.
func (l *Library) Get(ctx context.Context, id, viewerID string) (*database.MediaItem, error) {
	return l.store.GetMediaItem(ctx, id, viewerID)
}

// List returns one page of the feed.
func (l *Library) List(ctx context.Context, opts database.ListOptions) (*database.MediaPage, error) {
	if opts.Filter == mediatypes.FilterMine && opts.ViewerID == "" {
		return nil, fmt.Errorf("filter %q requires a viewer", opts.Filter)
	}
	return l.store.ListMedia(ctx, opts)
}

// Delete removes an item uploaded by actor, or any item when actor is an
// admin. The row goes first; failures removing the stored objects are
// logged and do not fail the call.
func (l *Library) Delete(ctx context.Context, id string, actor *database.User) error {
	item, err := l.store.GetMediaItem(ctx, id, "")
	if err != nil {
		metrics.MediaDeletesTotal.WithLabelValues("not_found").Inc()
		return err
	}
	if actor == nil || (item.UploaderID != actor.ID && !actor.IsAdmin()) {
		metrics.MediaDeletesTotal.WithLabelValues("forbidden").Inc()
		return ErrForbidden
	}

	if err := l.store.DeleteMediaItem(ctx, id); err != nil {
		metrics.MediaDeletesTotal.WithLabelValues("error").Inc()
		return err
	}

	keys := []string{item.StorageKey}
	if item.ThumbnailKey != nil {
		keys = append(keys, *item.ThumbnailKey)
	}
	for _, key := range keys {
		if err := l.backend.Delete(ctx, key); err != nil {
			logging.Warn("Media item %s deleted but object %s remains: %v", id, key, err)
		}
	}

	metrics.MediaDeletesTotal.WithLabelValues("success").Inc()
	logging.Info("User %s deleted media item %s (%s)", actor.Email, id, item.StorageKey)
	return nil
}

// ToggleFavorite flips the favorite flag for userID and returns the new state.
func (l *Library) ToggleFavorite(ctx context.Context, id, userID string) (bool, error) {
	return l.store.ToggleFavorite(ctx, userID, id)
}

// Location says where a client fetches bytes from: a signed URL to
// redirect to, or an opened object to stream. Exactly one is set.
type Location struct {
	URL    string
	Object *storage.Object
	Key    string
}

// FileLocation resolves the primary object, or with thumbnail set, the
// item's thumbnail. Images are their own thumbnail; videos use the frame
// captured during processing.
func (l *Library) FileLocation(ctx context.Context, item *database.MediaItem, thumbnail bool) (*Location, error) {
	key := item.StorageKey
	if thumbnail {
		switch {
		case item.ThumbnailKey != nil:
			key = *item.ThumbnailKey
		case item.Kind != mediatypes.KindImage:
			return nil, ErrNoThumbnail
		}
	}

	url, err := l.backend.SignedURL(ctx, key, l.signedURLTTL)
	if err == nil {
		return &Location{URL: url, Key: key}, nil
	}
	if !errors.Is(err, storage.ErrSignedURLUnsupported) {
		return nil, err
	}

	obj, err := l.backend.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Location{Object: obj, Key: key}, nil
}
