package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
)

// beginLoad starts the single backend load for loadEntry on its own
// goroutine. The caller must already have installed loadEntry for key
// under the table lock; the pointer is the load's identity, so a late
// result can never settle a fresh entry installed after cancellation.
func (c *ResourceCache) beginLoad(ctx context.Context, key assets.Key, loadEntry *entry) {
	go func() {
		start := time.Now()
		handle, err := c.loader.Load(ctx, key)
		if err != nil && ctx.Err() != nil && !errors.Is(err, assets.ErrCancelled) {
			err = fmt.Errorf("%w: %w", assets.ErrCancelled, err)
		}
		c.finishLoad(ctx, key, loadEntry, handle, err, time.Since(start))
	}()
}

// finishLoad settles the load for loadEntry. Waiter refcount increments
// and the ready-state installation happen under the same table lock, so a
// release racing the fan-out always observes a consistent count. The
// waiter callbacks themselves run after the lock is dropped and may
// re-enter the cache.
func (c *ResourceCache) finishLoad(ctx context.Context, key assets.Key, loadEntry *entry, handle assets.Handle, loadErr error, elapsed time.Duration) {
	logger := logging.FromContext(ctx)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e != loadEntry {
		// The slot was cancelled or force-collected while we were
		// loading, and may since have been replaced by a retry's fresh
		// entry. Our waiters have already been failed and the fresh
		// entry's own load will settle it. Drop the result so no
		// completion is delivered after cancellation.
		c.mu.Unlock()
		if handle != nil {
			if err := handle.Close(); err != nil {
				logger.Error("Failed to close orphaned handle", "key", key.String(), "error", err.Error())
			}
		}
		return
	}

	waiters := e.waiters
	e.waiters = nil
	e.cancelLoad = nil

	if loadErr != nil {
		// Failures are never cached: the slot disappears before any
		// waiter hears about it, so the next acquire loads afresh.
		delete(c.entries, key)
		c.mu.Unlock()

		logger.InfoContext(ctx, "Asset load failed", "key", key.String(), "error", loadErr.Error(), "durationSeconds", elapsed.Seconds())
		recordLoad(ctx, key, elapsed, loadErr)

		res := Result{Err: loadErr}
		for _, waiter := range waiters {
			waiter(res)
		}
		return
	}

	e.handle = handle
	e.state = stateReady
	e.refCount += len(waiters)
	c.mu.Unlock()

	logger.InfoContext(ctx, "Asset loaded", "key", key.String(), "sizeBytes", handle.Size(), "waiters", len(waiters), "durationSeconds", elapsed.Seconds())
	recordLoad(ctx, key, elapsed, nil)

	res := Result{Handle: handle}
	for _, waiter := range waiters {
		waiter(res)
	}
}
