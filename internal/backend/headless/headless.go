// Package headless is the always-available backend: extensions run
// in-process on the JS and WASM engines.
package headless

import (
	"context"
	"log/slog"

	"sourcekit/internal/domain"
	"sourcekit/internal/extension"
)

// Name identifies the headless backend in logs and events.
const Name = "headless"

// Backend implements domain.Backend over an extension.Loader.
type Backend struct {
	loader *extension.Loader
	logger *slog.Logger
}

var _ domain.Backend = (*Backend)(nil)

// New creates a headless backend over loader.
func New(loader *extension.Loader, logger *slog.Logger) *Backend {
	return &Backend{loader: loader, logger: logger.With("backend", Name)}
}

func (b *Backend) Name() string { return Name }

// Available is always true.
func (b *Backend) Available() bool { return true }

func (b *Backend) IsLoaded(_ context.Context, id string) bool {
	return b.loader.IsLoaded(id)
}

// LoadExtension loads id from source, or from the source provider when
// source is nil. Failures are logged and reported as false.
func (b *Backend) LoadExtension(ctx context.Context, id string, source []byte) bool {
	if err := b.loader.LoadSource(ctx, id, source); err != nil {
		b.logger.Warn("extension load failed", "extension", id, "error", err)
		return false
	}
	return true
}

// RunExtensionMethod loads id on demand, then invokes method.
func (b *Backend) RunExtensionMethod(ctx context.Context, id, method string, args ...any) (any, error) {
	if !b.loader.IsLoaded(id) {
		if err := b.loader.Load(ctx, id); err != nil {
			return nil, err
		}
	}
	return b.loader.Invoke(ctx, id, method, args...)
}

// Loaded returns the IDs of loaded extensions.
func (b *Backend) Loaded() []string { return b.loader.Loaded() }

// Reset closes every loaded instance. Extensions reload on next use.
func (b *Backend) Reset() { b.loader.Reset() }
