// Package objectstore defines the object storage collaborator (§2.2)
// and its production (MinIO) and dev (filesystem directory)
// implementations.
package objectstore

import (
	"context"
	"io"
)

// Store is the interface usecases depend on.
type Store interface {
	// Upload stores reader's contents under key with the given content
	// type, overwriting any previous object at that key.
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error

	// PublicURL returns the externally resolvable URL for key, built
	// from the configured endpoint (and CDN host override, if any).
	PublicURL(key string) string
}
