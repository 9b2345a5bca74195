package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"family-gallery/internal/logging"
)

var (
	// ErrNotFound is returned by Open when no object exists under the key.
	ErrNotFound = errors.New("storage: object not found")
	// ErrSignedURLUnsupported is returned by backends that serve bytes directly.
	ErrSignedURLUnsupported = errors.New("storage: signed URLs not supported by this backend")
	// ErrInvalidKey is returned for keys that are empty, absolute or escape the root.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Kind names a storage backend implementation.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
)

// Config selects and configures the backend. Only the fields relevant to
// Kind are read.
type Config struct {
	Kind Kind

	LocalDir string

	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Object is an opened stored object. Body is an io.ReadSeeker for backends
// that can seek (the local filesystem).
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Close releases the object body.
func (o *Object) Close() error {
	return o.Body.Close()
}

// Backend is a durable byte store addressed by slash-separated keys.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Put stores size bytes from r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Open returns the object or ErrNotFound.
	Open(ctx context.Context, key string) (*Object, error)
	// SignedURL returns a time-limited URL for direct client access, or
	// ErrSignedURLUnsupported.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Health reports whether the backend is reachable and writable.
	Health(ctx context.Context) error
}

// New builds the backend named by cfg.Kind, wrapped with metrics.
func New(ctx context.Context, cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Kind {
	case KindLocal:
		b, err = NewLocalBackend(cfg.LocalDir)
	case KindS3:
		b, err = NewS3Backend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	logging.Info("Storage backend: %s", b.Name())
	return Instrument(b), nil
}

// ValidateKey rejects keys that could resolve outside the backend root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// SplitKey returns the directory, stem and extension of a key:
// "galleries/2024/05/cat.heic" → "galleries/2024/05", "cat", ".heic".
func SplitKey(key string) (dir, stem, ext string) {
	dir, file := path.Split(key)
	dir = strings.TrimSuffix(dir, "/")
	ext = path.Ext(file)
	stem = strings.TrimSuffix(file, ext)
	return dir, stem, ext
}

// JoinKey builds a key from its parts, the inverse of SplitKey.
func JoinKey(dir, stem, ext string) string {
	if dir == "" {
		return stem + ext
	}
	return dir + "/" + stem + ext
}

// FreeKey returns the first key based on want that taken reports as free:
// want itself, then stem_1.ext, stem_2.ext and so on.
func FreeKey(ctx context.Context, want string, maxAttempts int, taken func(context.Context, string) (bool, error)) (string, int, error) {
	dir, stem, ext := SplitKey(want)
	candidate := want
	for n := 0; n < maxAttempts; n++ {
		if n > 0 {
			candidate = JoinKey(dir, fmt.Sprintf("%s_%d", stem, n), ext)
		}
		used, err := taken(ctx, candidate)
		if err != nil {
			return "", n, err
		}
		if !used {
			return candidate, n, nil
		}
	}
	return "", maxAttempts, fmt.Errorf("no free key for %q after %d attempts", want, maxAttempts)
}
