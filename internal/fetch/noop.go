package fetch

import (
	"context"
	"errors"

	"github.com/farmassist/harvester/internal/catalog"
)

// NoopRenderer implements catalog.Renderer but always returns an error to
// indicate that headless rendering is not available in the current build.
type NoopRenderer struct{}

// NewNoopRenderer creates a new NoopRenderer.
func NewNoopRenderer() *NoopRenderer {
	return &NoopRenderer{}
}

// Render returns an error since this is a stub implementation.
func (NoopRenderer) Render(_ context.Context, _ string) (catalog.FetchResult, error) {
	return catalog.FetchResult{}, errors.New("renderer not configured")
}
