package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/depot-assets/depot/internal/assets"
)

type cacheMetricsCollection struct {
	acquireCount metric.Int64Counter
	loadDuration metric.Float64Histogram
	evictedCount metric.Int64Counter
	misuseCount  metric.Int64Counter
}

var metrics cacheMetricsCollection

func init() {
	const name = "depot/cache"
	meter := otel.Meter(name)

	acquireCount, err := meter.Int64Counter(
		"cache/acquire_count",
		metric.WithDescription("Total number of acquire calls by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create acquire count metric: %w", err))
	}

	loadDuration, err := meter.Float64Histogram(
		"cache/load_duration_seconds",
		metric.WithDescription("Backend load time per key"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create load duration metric: %w", err))
	}

	evictedCount, err := meter.Int64Counter(
		"cache/evicted_count",
		metric.WithDescription("Total number of evicted entries"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create evicted count metric: %w", err))
	}

	misuseCount, err := meter.Int64Counter(
		"cache/misuse_count",
		metric.WithDescription("Total number of release calls without a matching acquire"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create misuse count metric: %w", err))
	}

	metrics = cacheMetricsCollection{
		acquireCount: acquireCount,
		loadDuration: loadDuration,
		evictedCount: evictedCount,
		misuseCount:  misuseCount,
	}
}

func recordAcquire(ctx context.Context, key assets.Key, outcome string) {
	metrics.acquireCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(key.Type)),
		attribute.String("outcome", outcome),
	))
}

func recordLoad(ctx context.Context, key assets.Key, elapsed time.Duration, loadErr error) {
	metrics.loadDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("type", string(key.Type)),
		attribute.String("outcome", loadOutcome(loadErr)),
	))
}

func recordEvictions(ctx context.Context, count int, forceAll bool) {
	metrics.evictedCount.Add(ctx, int64(count), metric.WithAttributes(
		attribute.Bool("force_all", forceAll),
	))
}

func recordMisuse(ctx context.Context, key assets.Key) {
	metrics.misuseCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(key.Type)),
	))
}

func loadOutcome(loadErr error) string {
	switch {
	case loadErr == nil:
		return "ok"
	case errors.Is(loadErr, assets.ErrNotFound):
		return "not_found"
	case errors.Is(loadErr, assets.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(loadErr, assets.ErrDecode):
		return "decode_error"
	case errors.Is(loadErr, assets.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
