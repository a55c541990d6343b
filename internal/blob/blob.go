// Package blob defines the interface for document artifact storage.
// Fetched PDFs are written once and read back by the extraction stage, so
// implementations must support both directions.
package blob

import (
	"context"
	"io"
)

// Store is the common interface for a document blob store.
type Store interface {
	// PutObject uploads data under path and returns the stored URI.
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// GetObject returns the content previously stored under path.
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Discard is a store that drops writes, for dry runs where documents are
// fetched but not retained.
type Discard struct{}

// PutObject ignores the content and returns an empty URI.
func (Discard) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}

// GetObject always fails since nothing is retained.
func (Discard) GetObject(_ context.Context, path string) ([]byte, error) {
	return nil, &NotFoundError{Path: path}
}

// NotFoundError reports a missing object.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "blob not found: " + e.Path
}
