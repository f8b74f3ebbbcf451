package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/depot-assets/depot/internal/adapters/journal"
	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/cache"
	"github.com/depot-assets/depot/internal/logging"
)

type FetchAsset func(ctx context.Context, key assets.Key) (assets.Handle, error)

type ReleaseAsset func(ctx context.Context, key assets.Key) error

func outcomeForError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, assets.ErrNotFound):
		return "not_found"
	case errors.Is(err, assets.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, assets.ErrDecode):
		return "decode_error"
	case errors.Is(err, assets.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// BuildFetchAsset acquires through the cache and journals every settled
// fetch. Journaling failures are logged, never surfaced: the asset was
// already fetched, and the caller's request should not fail over
// diagnostics.
func BuildFetchAsset(resourceCache *cache.ResourceCache, loadJournal journal.Journal, nowFunc func() time.Time) FetchAsset {
	return func(ctx context.Context, key assets.Key) (assets.Handle, error) {
		logger := logging.FromContext(ctx)

		start := nowFunc()
		handle, err := resourceCache.Acquire(ctx, key)
		elapsed := nowFunc().Sub(start)

		// Ignore cancellations from the request context and try to record
		// the event anyway. Take a maximum of 1 second to not block the
		// request for too long.
		journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 1*time.Second)
		defer cancel()
		journalErr := loadJournal.RecordLoad(journalCtx, journal.LoadEvent{
			ID:         uuid.New().String(),
			Path:       key.Path,
			Type:       key.Type,
			Outcome:    outcomeForError(err),
			Duration:   elapsed,
			OccurredAt: start,
		})
		if journalErr != nil {
			// NOTE: Journal implementations handle their own error reporting
			logger.Error("failed to journal asset fetch", "error", journalErr.Error())
		}

		if err != nil {
			return nil, err
		}
		return handle, nil
	}
}

func BuildReleaseAsset(resourceCache *cache.ResourceCache) ReleaseAsset {
	return func(ctx context.Context, key assets.Key) error {
		return resourceCache.Release(ctx, key)
	}
}
