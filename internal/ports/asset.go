package ports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/depot-assets/depot/internal/app"
	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
	"github.com/depot-assets/depot/internal/ratelimiting"
	"github.com/depot-assets/depot/internal/reporting"
)

func MakeGetAssetHandler(
	fetchAsset app.FetchAsset,
	releaseAsset app.ReleaseAsset,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	ipLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(8),
		ratelimiting.BurstSize(480),
	)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(ipLimiter, ratelimiting.IPKeyFunc)

	// NOTE: Rate limiting based on user controlled value
	pathLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(4),
		ratelimiting.BurstSize(240),
	)
	assetPathRateLimiter := ratelimiting.NewRequestBasedRateLimiter(pathLimiter, ratelimiting.AssetPathKeyFunc)

	onLimitExceeded := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false,"cause":"rate limit exceeded"}`))
	}

	middleware := ComposeMiddlewares(
		buildMetricsMiddleware("getasset"),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware("getasset"),
		NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
		NewRateLimitMiddleware(assetPathRateLimiter, onLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		path := r.URL.Query().Get("path")
		rawType := r.URL.Query().Get("type")

		ctx = logging.AddMetaToContext(ctx, slog.String("assetType", rawType))
		ctx = reporting.AddExtrasToContext(ctx,
			map[string]string{
				"assetPath": path,
				"assetType": rawType,
			},
		)

		if path == "" || len(path) > 1024 {
			writeErrorResponse(ctx, w, fmt.Errorf("%w: invalid asset path length", assets.ErrMisuse))
			return
		}

		typeTag, err := assets.ParseTypeTag(rawType)
		if err != nil {
			writeErrorResponse(ctx, w, fmt.Errorf("%w: %s", assets.ErrMisuse, err.Error()))
			return
		}

		key := assets.NewKey(path, typeTag)

		handle, err := fetchAsset(ctx, key)
		if err != nil {
			// NOTE: FetchAsset implementations handle their own error reporting
			writeErrorResponse(ctx, w, err)
			return
		}
		defer func() {
			if err := releaseAsset(ctx, key); err != nil {
				reporting.Report(ctx, fmt.Errorf("failed to release asset after response: %w", err))
			}
		}()

		w.Header().Set("Content-Type", typeTag.ContentType())
		w.Header().Set("Content-Length", strconv.FormatInt(handle.Size(), 10))
		w.WriteHeader(http.StatusOK)
		w.Write(handle.Bytes())
	}

	return middleware(handler)
}
