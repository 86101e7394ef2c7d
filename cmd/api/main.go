package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"

	"synkdocs/api/internal/app"
	"synkdocs/api/internal/blob"
	"synkdocs/api/internal/cache"
	"synkdocs/api/internal/config"
	"synkdocs/api/internal/gitrepo"
	"synkdocs/api/internal/logging"
	"synkdocs/api/internal/metrics"
	"synkdocs/api/internal/prosemirror"
	"synkdocs/api/internal/search"
	"synkdocs/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger, _ = logging.New(os.Stderr, "info", "json")
		logger.WithError(err).Warn("invalid logging settings, using defaults")
	}
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Debugf)); err != nil {
		logger.WithError(err).Warn("failed to set GOMAXPROCS")
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.WithError(err).Fatal("migrations failed")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		logger.WithError(err).Fatal("failed to create repos dir")
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var primary search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts, pgfts, logger)

	deps := app.Dependencies{
		Store:   dataStore,
		Git:     gitrepo.New(cfg.ReposDir),
		Search:  searchService,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
		Log:     logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		formatCache, err := cache.NewRedisCache(cfg.RedisURL, prosemirror.Version(), cfg.FormatMaxDepth)
		if err != nil {
			logger.WithError(err).Fatal("redis connection failed")
		}
		defer formatCache.Close()
		deps.Cache = formatCache
		logger.Info("format cache enabled")
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		archive, err := blob.New(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
		if err != nil {
			logger.WithError(err).Fatal("object storage configuration failed")
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = archive.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("object storage unavailable, exports will not be archived")
		} else {
			deps.Archive = archive
			logger.WithField("bucket", archive.Bucket()).Info("export archiving enabled")
		}
	}

	service := app.New(cfg, deps)

	go func() {
		if n := searchService.ReindexAllFromPG(ctx); n > 0 {
			logger.WithField("documents", n).Info("search index rebuilt")
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, app.DefaultMetricsHandler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithFields(map[string]any{
			"addr":              cfg.Addr,
			"formatter_version": prosemirror.Version(),
		}).Info("synkdocs API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}
