package app

import (
	"context"
	"fmt"

	"github.com/depot-assets/depot/internal/adapters/journal"
	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/cache"
)

type CollectUnused func(ctx context.Context, forceAll bool) []assets.Key

type GetCacheStats func() cache.Stats

type GetRecentLoads func(ctx context.Context, limit int) ([]journal.LoadEvent, error)

func BuildCollectUnused(resourceCache *cache.ResourceCache) CollectUnused {
	return func(ctx context.Context, forceAll bool) []assets.Key {
		return resourceCache.CollectUnused(ctx, forceAll)
	}
}

func BuildGetCacheStats(resourceCache *cache.ResourceCache) GetCacheStats {
	return resourceCache.Stats
}

func BuildGetRecentLoads(loadJournal journal.Journal) GetRecentLoads {
	return func(ctx context.Context, limit int) ([]journal.LoadEvent, error) {
		events, err := loadJournal.RecentLoads(ctx, limit)
		if err != nil {
			// NOTE: Journal implementations handle their own error reporting
			return nil, fmt.Errorf("failed to get recent loads: %w", err)
		}
		return events, nil
	}
}
