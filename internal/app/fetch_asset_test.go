package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-assets/depot/internal/adapters/journal"
	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/cache"
)

type stubLoader struct {
	data map[assets.Key][]byte
}

func (l *stubLoader) Load(ctx context.Context, key assets.Key) (assets.Handle, error) {
	data, ok := l.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, key)
	}
	return assets.NewByteHandle(key, data), nil
}

var configKey = assets.NewKey("data/config.json", assets.TypeJSON)

func newFetchFixture(t *testing.T) (FetchAsset, *cache.ResourceCache, *journal.Mock) {
	t.Helper()

	loader := &stubLoader{data: map[assets.Key][]byte{
		configKey: []byte(`{"volume":0.8}`),
	}}
	resourceCache := cache.NewResourceCache(loader)
	loadJournal := journal.NewMock()

	return BuildFetchAsset(resourceCache, loadJournal, time.Now), resourceCache, loadJournal
}

func TestFetchAsset(t *testing.T) {
	t.Parallel()

	t.Run("success journals ok", func(t *testing.T) {
		t.Parallel()
		fetchAsset, resourceCache, loadJournal := newFetchFixture(t)

		handle, err := fetchAsset(t.Context(), configKey)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"volume":0.8}`), handle.Bytes())
		assert.Equal(t, 1, resourceCache.Stats().References)

		events := loadJournal.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "ok", events[0].Outcome)
		assert.Equal(t, "data/config.json", events[0].Path)
		assert.Equal(t, assets.TypeJSON, events[0].Type)
		assert.NotEmpty(t, events[0].ID)
	})

	t.Run("failure journals typed outcome", func(t *testing.T) {
		t.Parallel()
		fetchAsset, _, loadJournal := newFetchFixture(t)

		missingKey := assets.NewKey("data/missing.json", assets.TypeJSON)
		_, err := fetchAsset(t.Context(), missingKey)
		require.ErrorIs(t, err, assets.ErrNotFound)

		events := loadJournal.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "not_found", events[0].Outcome)
	})

	t.Run("journal failure does not fail the fetch", func(t *testing.T) {
		t.Parallel()
		fetchAsset, _, loadJournal := newFetchFixture(t)
		loadJournal.RecordErr = fmt.Errorf("db is down")

		handle, err := fetchAsset(t.Context(), configKey)
		require.NoError(t, err)
		assert.NotNil(t, handle)
	})
}

func TestReleaseAsset(t *testing.T) {
	t.Parallel()

	fetchAsset, resourceCache, _ := newFetchFixture(t)
	releaseAsset := BuildReleaseAsset(resourceCache)

	_, err := fetchAsset(t.Context(), configKey)
	require.NoError(t, err)

	require.NoError(t, releaseAsset(t.Context(), configKey))
	assert.Equal(t, 0, resourceCache.Stats().References)

	err = releaseAsset(t.Context(), configKey)
	assert.ErrorIs(t, err, assets.ErrMisuse)
}

func TestMaintenance(t *testing.T) {
	t.Parallel()

	fetchAsset, resourceCache, loadJournal := newFetchFixture(t)
	collectUnused := BuildCollectUnused(resourceCache)
	getCacheStats := BuildGetCacheStats(resourceCache)
	getRecentLoads := BuildGetRecentLoads(loadJournal)

	_, err := fetchAsset(t.Context(), configKey)
	require.NoError(t, err)
	require.NoError(t, BuildReleaseAsset(resourceCache)(t.Context(), configKey))

	evicted := collectUnused(t.Context(), false)
	assert.Equal(t, []assets.Key{configKey}, evicted)
	assert.Equal(t, 0, getCacheStats().Entries)

	events, err := getRecentLoads(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Outcome)
}

func TestOutcomeForError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", outcomeForError(nil))
	assert.Equal(t, "not_found", outcomeForError(fmt.Errorf("wrapped: %w", assets.ErrNotFound)))
	assert.Equal(t, "type_mismatch", outcomeForError(assets.ErrTypeMismatch))
	assert.Equal(t, "decode_error", outcomeForError(assets.ErrDecode))
	assert.Equal(t, "cancelled", outcomeForError(assets.ErrCancelled))
	assert.Equal(t, "error", outcomeForError(fmt.Errorf("boom")))
}
