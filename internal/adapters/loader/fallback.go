package loader

import (
	"context"
	"errors"

	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
)

type Loader interface {
	Load(ctx context.Context, key assets.Key) (assets.Handle, error)
}

type fallbackLoader struct {
	primary   Loader
	secondary Loader
}

// NewFallbackLoader tries primary and falls back to secondary when the
// key is not found there. Any other failure from primary is final.
func NewFallbackLoader(primary, secondary Loader) *fallbackLoader {
	return &fallbackLoader{primary: primary, secondary: secondary}
}

func (l *fallbackLoader) Load(ctx context.Context, key assets.Key) (assets.Handle, error) {
	handle, err := l.primary.Load(ctx, key)
	if err == nil {
		return handle, nil
	}
	if !errors.Is(err, assets.ErrNotFound) {
		return nil, err
	}

	logging.FromContext(ctx).DebugContext(ctx, "Falling back to secondary loader", "key", key.String())
	return l.secondary.Load(ctx, key)
}
