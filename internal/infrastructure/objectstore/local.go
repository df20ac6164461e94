package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore is the dev-mode object store backend (§9): files are
// copied into a directory on the local filesystem.
type LocalStore struct {
	dir  string
	base string // URL prefix used to build PublicURL, e.g. "file:///tmp/metamorph/"
}

// NewLocalStore creates a filesystem-backed object store rooted at dir.
// dir is created if it doesn't already exist.
func NewLocalStore(dir, base string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local object store dir: %w", err)
	}
	return &LocalStore{dir: dir, base: strings.TrimSuffix(base, "/") + "/"}, nil
}

// Upload copies reader's contents to a file named key under the store's
// root directory. contentType is accepted for interface compatibility
// but unused -- the dev backend serves files directly off disk.
func (s *LocalStore) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create local object store subdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create local object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("write local object: %w", err)
	}
	return nil
}

// PublicURL returns the configured base URL joined with key.
func (s *LocalStore) PublicURL(key string) string {
	return s.base + key
}

var _ Store = (*LocalStore)(nil)
