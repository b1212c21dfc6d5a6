// internal/media/local.go
package media

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// LocalStore writes blobs below a directory and returns file:// URLs.
type LocalStore struct {
	root string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid blob directory %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

func (l *LocalStore) PutBlob(ctx context.Context, key string, content []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := filepath.Join(l.root, filepath.FromSlash(filepath.Clean("/"+key)))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0o640); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}
