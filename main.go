package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/depot-assets/depot/internal/adapters/database"
	"github.com/depot-assets/depot/internal/adapters/journal"
	"github.com/depot-assets/depot/internal/adapters/loader"
	"github.com/depot-assets/depot/internal/app"
	"github.com/depot-assets/depot/internal/cache"
	"github.com/depot-assets/depot/internal/config"
	"github.com/depot-assets/depot/internal/logging"
	"github.com/depot-assets/depot/internal/ports"
	"github.com/depot-assets/depot/internal/reporting"
	"github.com/depot-assets/depot/internal/telemetry"
)

const SERVICE_NAME = "depot"

func main() {
	ctx := context.Background()

	instanceID := uuid.New().String()
	logger := slog.New(
		logging.NewTracingLogHandler(slog.NewJSONHandler(os.Stdout, nil)),
	).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	otelShutdown, err := telemetry.SetupOTelSDK(ctx, SERVICE_NAME)
	if err != nil {
		fail("Failed to set up OpenTelemetry SDK", "error", err.Error())
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			logger.Error("Failed to shut down OpenTelemetry SDK", "error", err.Error())
		}
	}()

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	var loadJournal journal.Journal
	logger.Info("Initializing database connection")
	db, err := database.NewCloudsqlPostgresDatabase(config)
	if err != nil {
		if !config.IsDevelopment() {
			fail("Failed to initialize database connection", "error", err.Error())
		}
		// Local runs don't require postgres. Keep the journal in memory.
		logger.Warn("Failed to connect to local database, journaling to memory", "error", err.Error())
		loadJournal = journal.NewMock()
	} else {
		logger.Info("Initialized database connection")

		journalSchemaName := database.GetSchemaName(!config.IsProduction())

		err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, journalSchemaName)
		if err != nil {
			fail("Failed to migrate database", "error", err.Error())
		}

		loadJournal = journal.NewPostgres(db, journalSchemaName)
		logger.Info("Initialized load journal")
	}

	assetLoader := loader.Loader(loader.NewFilesystemLoader(config.AssetRoot()))
	if config.RemoteBaseURL() != "" {
		httpClient := &http.Client{
			Timeout: 10 * time.Second,
		}
		remoteLoader, stopRemote := loader.NewRemoteLoader(httpClient, config.RemoteBaseURL(), 16, 64)
		defer stopRemote()

		assetLoader = loader.NewFallbackLoader(assetLoader, remoteLoader)
		logger.Info("Initialized remote asset loader", "baseURL", config.RemoteBaseURL())
	}

	resourceCache := cache.NewResourceCache(assetLoader)

	fetchAsset := app.BuildFetchAsset(resourceCache, loadJournal, time.Now)
	releaseAsset := app.BuildReleaseAsset(resourceCache)
	collectUnused := app.BuildCollectUnused(resourceCache)
	getCacheStats := app.BuildGetCacheStats(resourceCache)
	getRecentLoads := app.BuildGetRecentLoads(loadJournal)

	http.HandleFunc(
		"GET /v1/asset",
		ports.MakeGetAssetHandler(
			fetchAsset,
			releaseAsset,
			logger.With("port", "getasset"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"GET /v1/cache/stats",
		ports.MakeGetCacheStatsHandler(
			getCacheStats,
			logger.With("port", "cachestats"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"POST /v1/cache/collect",
		ports.MakeCollectUnusedHandler(
			collectUnused,
			logger.With("port", "collect"),
			sentryMiddleware,
		),
	)

	http.HandleFunc(
		"GET /v1/cache/loads",
		ports.MakeGetRecentLoadsHandler(
			getRecentLoads,
			logger.With("port", "recentloads"),
			sentryMiddleware,
		),
	)

	logger.Info("Init complete")
	err = http.ListenAndServe(
		fmt.Sprintf(":%s", config.Port()),
		otelhttp.NewHandler(http.DefaultServeMux, "depot-http"),
	)
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}
