package ports

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/depot-assets/depot/internal/app"
	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
	"github.com/depot-assets/depot/internal/reporting"
)

const defaultRecentLoadsLimit = 50

type collectResponse struct {
	Success bool     `json:"success"`
	Evicted []string `json:"evicted"`
}

type recentLoadEntry struct {
	Path       string  `json:"path"`
	Type       string  `json:"type"`
	Outcome    string  `json:"outcome"`
	DurationMS float64 `json:"durationMs"`
	OccurredAt string  `json:"occurredAt"`
}

type recentLoadsResponse struct {
	Success bool              `json:"success"`
	Loads   []recentLoadEntry `json:"loads"`
}

func buildAdminMiddleware(port string, rootLogger *slog.Logger, sentryMiddleware func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return ComposeMiddlewares(
		buildMetricsMiddleware(port),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware(port),
	)
}

func MakeGetCacheStatsHandler(
	getCacheStats app.GetCacheStats,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildAdminMiddleware("cachestats", rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		statsBytes, err := json.Marshal(getCacheStats())
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal cache stats: %w", err))
			writeErrorResponse(ctx, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(statsBytes)
	}

	return middleware(handler)
}

func MakeCollectUnusedHandler(
	collectUnused app.CollectUnused,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildAdminMiddleware("collect", rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			w.Write([]byte(`{"success":false,"cause":"method not allowed"}`))
			return
		}

		force := false
		if rawForce := r.URL.Query().Get("force"); rawForce != "" {
			parsed, err := strconv.ParseBool(rawForce)
			if err != nil {
				writeErrorResponse(ctx, w, fmt.Errorf("%w: invalid force parameter", assets.ErrMisuse))
				return
			}
			force = parsed
		}

		evicted := collectUnused(ctx, force)

		evictedKeys := make([]string, 0, len(evicted))
		for _, key := range evicted {
			evictedKeys = append(evictedKeys, key.String())
		}

		responseBytes, err := json.Marshal(collectResponse{Success: true, Evicted: evictedKeys})
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal collect response: %w", err))
			writeErrorResponse(ctx, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(responseBytes)
	}

	return middleware(handler)
}

func MakeGetRecentLoadsHandler(
	getRecentLoads app.GetRecentLoads,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildAdminMiddleware("recentloads", rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := defaultRecentLoadsLimit
		if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
			parsed, err := strconv.Atoi(rawLimit)
			if err != nil || parsed < 1 || parsed > 1000 {
				writeErrorResponse(ctx, w, fmt.Errorf("%w: invalid limit parameter", assets.ErrMisuse))
				return
			}
			limit = parsed
		}

		events, err := getRecentLoads(ctx, limit)
		if err != nil {
			// NOTE: GetRecentLoads implementations handle their own error reporting
			writeErrorResponse(ctx, w, err)
			return
		}

		loads := make([]recentLoadEntry, 0, len(events))
		for _, event := range events {
			loads = append(loads, recentLoadEntry{
				Path:       event.Path,
				Type:       string(event.Type),
				Outcome:    event.Outcome,
				DurationMS: float64(event.Duration.Milliseconds()),
				OccurredAt: event.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			})
		}

		responseBytes, err := json.Marshal(recentLoadsResponse{Success: true, Loads: loads})
		if err != nil {
			reporting.Report(ctx, fmt.Errorf("failed to marshal recent loads response: %w", err))
			writeErrorResponse(ctx, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(responseBytes)
	}

	return middleware(handler)
}
