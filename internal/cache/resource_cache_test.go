package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-assets/depot/internal/assets"
)

var rockKey = assets.NewKey("textures/rock.png", assets.TypeImage)

func acquireBlocking(t *testing.T, c *ResourceCache, key assets.Key) assets.Handle {
	t.Helper()
	handle, err := c.Acquire(t.Context(), key)
	require.NoError(t, err)
	require.NotNil(t, handle)
	return handle
}

func TestSingleFlight(t *testing.T) {
	t.Parallel()

	const concurrentAcquires = 8

	loader := newMockLoader()
	release := loader.block(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	results := make(chan Result, concurrentAcquires)
	for i := 0; i < concurrentAcquires; i++ {
		c.AcquireAsync(t.Context(), rockKey, func(res Result) {
			results <- res
		})
	}

	stats := c.Stats()
	assert.Equal(t, 1, stats.Loading)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(concurrentAcquires-1), stats.CoalescedJoins)

	release()

	var first assets.Handle
	for i := 0; i < concurrentAcquires; i++ {
		res := <-results
		require.NoError(t, res.Err)
		if first == nil {
			first = res.Handle
		}
		assert.Same(t, first, res.Handle, "all waiters must receive the same handle")
	}

	assert.Equal(t, 1, loader.loadCalls(rockKey), "exactly one load for N concurrent acquires")
	assert.Equal(t, concurrentAcquires, c.Stats().References)
}

func TestRefcountConservation(t *testing.T) {
	t.Parallel()

	const acquires = 5
	const releases = 3

	loader := newMockLoader()
	loader.respond(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	for i := 0; i < acquires; i++ {
		acquireBlocking(t, c, rockKey)
	}
	for i := 0; i < releases; i++ {
		require.NoError(t, c.Release(t.Context(), rockKey))
	}

	assert.Equal(t, acquires-releases, c.Stats().References)
}

func TestCollectUnusedRespectsReferences(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	loader.respond(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	acquireBlocking(t, c, rockKey)

	evicted := c.CollectUnused(t.Context(), false)
	assert.Empty(t, evicted, "referenced entries must survive collection")

	_, ok := c.Peek(rockKey)
	assert.True(t, ok)
}

func TestAcquireReleaseCollectReload(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	loader.respond(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	acquireBlocking(t, c, rockKey)
	require.NoError(t, c.Release(t.Context(), rockKey))

	evicted := c.CollectUnused(t.Context(), false)
	require.Equal(t, []assets.Key{rockKey}, evicted)
	assert.Equal(t, 0, c.Stats().Entries)

	acquireBlocking(t, c, rockKey)
	assert.Equal(t, 2, loader.loadCalls(rockKey), "acquire after eviction starts a fresh load")
}

func TestEvictionClosesHandle(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	loader.respond(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	handle := acquireBlocking(t, c, rockKey)
	require.NoError(t, c.Release(t.Context(), rockKey))
	c.CollectUnused(t.Context(), false)

	assert.Nil(t, handle.Bytes(), "eviction must release the underlying payload")
}

func TestFailureIsNotCached(t *testing.T) {
	t.Parallel()

	missingKey := assets.NewKey("textures/missing.png", assets.TypeImage)

	loader := newMockLoader()
	loader.fail(missingKey, fmt.Errorf("%w: %s", assets.ErrNotFound, missingKey))
	c := NewResourceCache(loader)

	_, err := c.Acquire(t.Context(), missingKey)
	require.ErrorIs(t, err, assets.ErrNotFound)
	assert.Equal(t, 0, c.Stats().Entries, "failed loads must not leave an entry behind")

	// The backend recovers; the next acquire must retry.
	loader.respond(missingKey, []byte("found-after-all"))
	handle := acquireBlocking(t, c, missingKey)
	assert.Equal(t, []byte("found-after-all"), handle.Bytes())
	assert.Equal(t, 2, loader.loadCalls(missingKey))
}

func TestFailureReachesEveryWaiter(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	release := loader.blockFail(rockKey, fmt.Errorf("%w: %s", assets.ErrDecode, rockKey))
	c := NewResourceCache(loader)

	results := make(chan Result, 2)
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { results <- res })
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { results <- res })

	release()

	for i := 0; i < 2; i++ {
		res := <-results
		assert.ErrorIs(t, res.Err, assets.ErrDecode)
	}
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestForceCollectCancelsInflightLoads(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	release := loader.block(rockKey, []byte("rock-bytes"))
	defer release()
	c := NewResourceCache(loader)

	results := make(chan Result, 2)
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { results <- res })
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { results <- res })

	evicted := c.CollectUnused(t.Context(), true)
	require.Equal(t, []assets.Key{rockKey}, evicted)

	for i := 0; i < 2; i++ {
		res := <-results
		assert.ErrorIs(t, res.Err, assets.ErrCancelled)
		assert.Nil(t, res.Handle)
	}
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestForceCollectEvictsReferencedEntries(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	loader.respond(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	acquireBlocking(t, c, rockKey)

	evicted := c.CollectUnused(t.Context(), true)
	assert.Equal(t, []assets.Key{rockKey}, evicted)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCancelFailsWaitersAndAllowsRetry(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	loader.block(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	results := make(chan Result, 1)
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { results <- res })
	require.Eventually(t, func() bool {
		return loader.loadCalls(rockKey) == 1
	}, time.Second, time.Millisecond, "first load must be in flight before the cancel")

	c.Cancel(t.Context(), rockKey)

	res := <-results
	require.ErrorIs(t, res.Err, assets.ErrCancelled)
	assert.Equal(t, 0, c.Stats().Entries)

	loader.respond(rockKey, []byte("rock-bytes"))
	acquireBlocking(t, c, rockKey)
	assert.Equal(t, 2, loader.loadCalls(rockKey))
}

func TestLateSettlementAfterCancelIsDropped(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	releaseFirst := loader.blockIgnoringCancel(rockKey, []byte("stale-bytes"))
	c := NewResourceCache(loader)

	firstResults := make(chan Result, 1)
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { firstResults <- res })
	require.Eventually(t, func() bool {
		return loader.loadCalls(rockKey) == 1
	}, time.Second, time.Millisecond, "first load must be in flight before the cancel")

	c.Cancel(t.Context(), rockKey)
	require.ErrorIs(t, (<-firstResults).Err, assets.ErrCancelled)

	// Retry while the cancelled load is still running.
	releaseSecond := loader.block(rockKey, []byte("fresh-bytes"))
	secondResults := make(chan Result, 1)
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { secondResults <- res })
	require.Eventually(t, func() bool {
		return loader.loadCalls(rockKey) == 2
	}, time.Second, time.Millisecond, "retry must start its own load")

	// The cancelled load settles late. Its result belongs to the removed
	// entry, so the retry waiter must only ever see the second load's.
	releaseFirst()
	releaseSecond()

	res := <-secondResults
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("fresh-bytes"), res.Handle.Bytes())
	assert.Equal(t, 2, loader.loadCalls(rockKey))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.References)
}

func TestCancelUnknownKeyIsNoop(t *testing.T) {
	t.Parallel()

	c := NewResourceCache(newMockLoader())
	c.Cancel(t.Context(), rockKey)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestReleaseMisuse(t *testing.T) {
	t.Parallel()

	t.Run("release of unknown key", func(t *testing.T) {
		t.Parallel()
		c := NewResourceCache(newMockLoader())

		err := c.Release(t.Context(), rockKey)
		assert.ErrorIs(t, err, assets.ErrMisuse)
		assert.Equal(t, uint64(1), c.Stats().Misuses)
	})

	t.Run("double release floors at zero", func(t *testing.T) {
		t.Parallel()
		loader := newMockLoader()
		loader.respond(rockKey, []byte("rock-bytes"))
		c := NewResourceCache(loader)

		acquireBlocking(t, c, rockKey)
		require.NoError(t, c.Release(t.Context(), rockKey))

		err := c.Release(t.Context(), rockKey)
		assert.ErrorIs(t, err, assets.ErrMisuse)
		assert.Equal(t, 0, c.Stats().References)
	})

	t.Run("release while loading", func(t *testing.T) {
		t.Parallel()
		loader := newMockLoader()
		release := loader.block(rockKey, []byte("rock-bytes"))
		defer release()
		c := NewResourceCache(loader)

		c.AcquireAsync(t.Context(), rockKey, func(Result) {})

		err := c.Release(t.Context(), rockKey)
		assert.ErrorIs(t, err, assets.ErrMisuse)
	})
}

func TestPeek(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	release := loader.block(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	_, ok := c.Peek(rockKey)
	assert.False(t, ok, "peek must not see absent entries")

	done := make(chan Result, 1)
	c.AcquireAsync(t.Context(), rockKey, func(res Result) { done <- res })

	_, ok = c.Peek(rockKey)
	assert.False(t, ok, "peek must not see loading entries")

	release()
	require.NoError(t, (<-done).Err)

	handle, ok := c.Peek(rockKey)
	require.True(t, ok)
	assert.Equal(t, []byte("rock-bytes"), handle.Bytes())

	require.NoError(t, c.Release(t.Context(), rockKey))
	_, ok = c.Peek(rockKey)
	assert.False(t, ok, "peek must not see unreferenced entries")
}

func TestDistinctTypesAreDistinctEntries(t *testing.T) {
	t.Parallel()

	imageKey := assets.NewKey("textures/rock.png", assets.TypeImage)
	binaryKey := assets.NewKey("textures/rock.png", assets.TypeBinary)

	loader := newMockLoader()
	loader.respond(imageKey, []byte("image-bytes"))
	loader.respond(binaryKey, []byte("binary-bytes"))
	c := NewResourceCache(loader)

	imageHandle := acquireBlocking(t, c, imageKey)
	binaryHandle := acquireBlocking(t, c, binaryKey)

	assert.Equal(t, []byte("image-bytes"), imageHandle.Bytes())
	assert.Equal(t, []byte("binary-bytes"), binaryHandle.Bytes())
	assert.Equal(t, 2, c.Stats().Entries)
	assert.Equal(t, 1, loader.loadCalls(imageKey))
	assert.Equal(t, 1, loader.loadCalls(binaryKey))
}

func TestAcquireAbandonedWaitReleasesGrantedReference(t *testing.T) {
	t.Parallel()

	loader := newMockLoader()
	release := loader.block(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := c.Acquire(ctx, rockKey)
	require.ErrorIs(t, err, assets.ErrCancelled)

	// The shared load keeps going; once it settles, the compensating
	// release must drop the abandoned caller's reference.
	release()
	require.Eventually(t, func() bool {
		return c.Stats().References == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	t.Parallel()

	const goroutines = 16
	const iterations = 50

	loader := newMockLoader()
	loader.respond(rockKey, []byte("rock-bytes"))
	c := NewResourceCache(loader)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				handle, err := c.Acquire(t.Context(), rockKey)
				assert.NoError(t, err)
				assert.NotNil(t, handle)
				assert.NoError(t, c.Release(t.Context(), rockKey))
			}
		}()
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, 0, stats.References)
	assert.Equal(t, uint64(0), stats.Misuses)
}
