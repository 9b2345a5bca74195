package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"family-gallery/internal/filesystem"
	"family-gallery/internal/mediatypes"
)

// LocalBackend stores objects as files under a root directory.
type LocalBackend struct {
	root  string
	retry filesystem.RetryConfig
}

// NewLocalBackend creates the root directory if needed.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if root == "" {
		return nil, errors.New("local storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalBackend{root: abs, retry: filesystem.DefaultRetryConfig()}, nil
}

// Name implements Backend.
func (b *LocalBackend) Name() string { return string(KindLocal) }

// Root returns the absolute directory objects are stored under.
func (b *LocalBackend) Root() string { return b.root }

func (b *LocalBackend) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

// Put writes to a temporary file beside the target and renames it into
// place, so readers never observe a partial object.
func (b *LocalBackend) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	dst, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := filesystem.RenameWithRetry(tmpName, dst, b.retry); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	committed = true
	return nil
}

// Exists implements Backend.
func (b *LocalBackend) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = filesystem.StatWithRetry(p, b.retry)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Delete implements Backend.
func (b *LocalBackend) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	return filesystem.RemoveWithRetry(p, b.retry)
}

// Open implements Backend. The returned body is an *os.File.
func (b *LocalBackend) Open(_ context.Context, key string) (*Object, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := filesystem.OpenWithRetry(p, b.retry)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &Object{
		Body:        f,
		Size:        info.Size(),
		ContentType: mediatypes.GetMimeType(mediatypes.Ext(key)),
		ModTime:     info.ModTime(),
	}, nil
}

// SignedURL implements Backend; local objects are streamed by the server.
func (b *LocalBackend) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrSignedURLUnsupported
}

// Health checks that the root is still a writable directory.
func (b *LocalBackend) Health(context.Context) error {
	info, err := filesystem.StatWithRetry(b.root, b.retry)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", b.root)
	}
	probe, err := os.CreateTemp(b.root, ".health-*")
	if err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// contextReader stops a copy once the context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
