package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
)

// Loader is the backend that produces payloads for keys. Implementations
// live in internal/adapters/loader.
type Loader interface {
	Load(ctx context.Context, key assets.Key) (assets.Handle, error)
}

// Result is delivered exactly once per acquire.
type Result struct {
	Handle assets.Handle
	Err    error
}

type CompletionFunc func(Result)

// Stats is a point-in-time snapshot of the cache for diagnostics.
type Stats struct {
	Entries        int    `json:"entries"`
	Loading        int    `json:"loading"`
	References     int    `json:"references"`
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	CoalescedJoins uint64 `json:"coalescedJoins"`
	Evictions      uint64 `json:"evictions"`
	Misuses        uint64 `json:"misuses"`
}

// ResourceCache is a keyed cache of loaded assets with reference counting
// and single-flight load de-duplication. Handles are owned by the cache
// and lent to callers; callers return them with Release. Zero-refcount
// entries stay cached until CollectUnused runs.
type ResourceCache struct {
	loader Loader

	mu      sync.Mutex
	entries map[assets.Key]*entry

	hits      uint64
	misses    uint64
	coalesced uint64
	evictions uint64
	misuses   uint64
}

func NewResourceCache(loader Loader) *ResourceCache {
	return &ResourceCache{
		loader:  loader,
		entries: make(map[assets.Key]*entry),
	}
}

// AcquireAsync requests the asset behind key and invokes onComplete
// exactly once with the result. A ready entry completes synchronously on
// the calling goroutine; otherwise onComplete runs on the goroutine that
// settles the load. At most one backend load is in flight per key no
// matter how many acquires arrive while it runs.
func (c *ResourceCache) AcquireAsync(ctx context.Context, key assets.Key, onComplete CompletionFunc) {
	logger := logging.FromContext(ctx)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		switch e.state {
		case stateReady:
			e.refCount++
			c.hits++
			handle := e.handle
			c.mu.Unlock()

			logger.DebugContext(ctx, "Acquired asset", "key", key.String(), "cache", "hit")
			recordAcquire(ctx, key, "hit")
			onComplete(Result{Handle: handle})
		case stateLoading:
			e.waiters = append(e.waiters, onComplete)
			c.coalesced++
			c.mu.Unlock()

			logger.DebugContext(ctx, "Joined in-flight load", "key", key.String(), "cache", "join")
			recordAcquire(ctx, key, "join")
		}
		return
	}

	c.misses++
	// The load is shared by every waiter that joins it, so it must not
	// die with the first caller's request context.
	loadCtx, cancelLoad := context.WithCancel(context.WithoutCancel(ctx))
	loadEntry := &entry{
		key:        key,
		state:      stateLoading,
		waiters:    []CompletionFunc{onComplete},
		cancelLoad: cancelLoad,
	}
	c.entries[key] = loadEntry
	c.mu.Unlock()

	logger.DebugContext(ctx, "Acquiring asset", "key", key.String(), "cache", "miss")
	recordAcquire(ctx, key, "miss")
	c.beginLoad(loadCtx, key, loadEntry)
}

// Acquire is the blocking form of AcquireAsync. Cancelling ctx abandons
// the wait, not the shared load; a reference granted after abandonment is
// released on the caller's behalf.
func (c *ResourceCache) Acquire(ctx context.Context, key assets.Key) (assets.Handle, error) {
	resultCh := make(chan Result, 1)
	c.AcquireAsync(ctx, key, func(res Result) {
		resultCh <- res
	})

	select {
	case res := <-resultCh:
		return res.Handle, res.Err
	case <-ctx.Done():
		go func() {
			res := <-resultCh
			if res.Err == nil {
				releaseErr := c.Release(context.WithoutCancel(ctx), key)
				if releaseErr != nil {
					logging.FromContext(ctx).Error("Failed to release abandoned acquire", "key", key.String(), "error", releaseErr.Error())
				}
			}
		}()
		return nil, fmt.Errorf("%w: %w", assets.ErrCancelled, ctx.Err())
	}
}

// Release returns one reference to the cache. Releasing a key with no
// ready entry, or one whose count is already zero, is a misuse: it is
// logged and counted, the count is left floored at zero, and a wrapped
// assets.ErrMisuse is returned so tests can assert on it.
func (c *ResourceCache) Release(ctx context.Context, key assets.Key) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.state != stateReady || e.refCount == 0 {
		c.misuses++
		c.mu.Unlock()

		logging.FromContext(ctx).WarnContext(ctx, "Release without matching acquire", "key", key.String())
		recordMisuse(ctx, key)
		return fmt.Errorf("%w: release of %s without matching acquire", assets.ErrMisuse, key)
	}
	e.refCount--
	c.mu.Unlock()
	return nil
}

// CollectUnused removes every ready entry whose reference count is zero
// and closes its handle. With forceAll it empties the table entirely,
// cancelling in-flight loads and failing their waiters with
// assets.ErrCancelled. Returns the evicted keys for diagnostics.
func (c *ResourceCache) CollectUnused(ctx context.Context, forceAll bool) []assets.Key {
	type cancelledLoad struct {
		key     assets.Key
		waiters []CompletionFunc
		cancel  context.CancelFunc
	}

	var evicted []assets.Key
	var orphans []assets.Handle
	var cancelledLoads []cancelledLoad

	c.mu.Lock()
	for key, e := range c.entries {
		if e.state == stateLoading {
			if !forceAll {
				continue
			}
			cancelledLoads = append(cancelledLoads, cancelledLoad{
				key:     key,
				waiters: e.waiters,
				cancel:  e.cancelLoad,
			})
			e.waiters = nil
			delete(c.entries, key)
			evicted = append(evicted, key)
			c.evictions++
			continue
		}

		if !forceAll && e.refCount > 0 {
			continue
		}
		delete(c.entries, key)
		if e.handle != nil {
			orphans = append(orphans, e.handle)
		}
		evicted = append(evicted, key)
		c.evictions++
	}
	c.mu.Unlock()

	logger := logging.FromContext(ctx)
	for _, handle := range orphans {
		if err := handle.Close(); err != nil {
			logger.Error("Failed to close evicted handle", "key", handle.Key().String(), "error", err.Error())
		}
	}

	for _, load := range cancelledLoads {
		load.cancel()
		res := Result{Err: fmt.Errorf("%w: %s", assets.ErrCancelled, load.key)}
		for _, waiter := range load.waiters {
			waiter(res)
		}
	}

	if len(evicted) > 0 {
		logger.InfoContext(ctx, "Collected unused assets", "evicted", len(evicted), "forceAll", forceAll)
		recordEvictions(ctx, len(evicted), forceAll)
	}

	return evicted
}

// Cancel aborts the in-flight load for key, if any. Waiters receive
// assets.ErrCancelled and the slot is removed; a later acquire starts a
// fresh load.
func (c *ResourceCache) Cancel(ctx context.Context, key assets.Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.state != stateLoading {
		c.mu.Unlock()
		return
	}
	waiters := e.waiters
	e.waiters = nil
	cancelLoad := e.cancelLoad
	delete(c.entries, key)
	c.mu.Unlock()

	cancelLoad()
	logging.FromContext(ctx).InfoContext(ctx, "Cancelled in-flight load", "key", key.String())

	res := Result{Err: fmt.Errorf("%w: %s", assets.ErrCancelled, key)}
	for _, waiter := range waiters {
		waiter(res)
	}
}

// Peek returns the handle for key without acquiring a reference. It only
// reports entries that are ready and currently referenced; it exists for
// diagnostics and tests, never for production acquisition.
func (c *ResourceCache) Peek(key assets.Key) (assets.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.state != stateReady || e.refCount == 0 {
		return nil, false
	}
	return e.handle, true
}

func (c *ResourceCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Entries:        len(c.entries),
		Hits:           c.hits,
		Misses:         c.misses,
		CoalescedJoins: c.coalesced,
		Evictions:      c.evictions,
		Misuses:        c.misuses,
	}
	for _, e := range c.entries {
		if e.state == stateLoading {
			stats.Loading++
		}
		stats.References += e.refCount
	}
	return stats
}
