// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sips-and-steals/crawler/internal/archive"
	archivegcs "github.com/sips-and-steals/crawler/internal/archive/gcs"
	archivelocal "github.com/sips-and-steals/crawler/internal/archive/local"
	"github.com/sips-and-steals/crawler/internal/clock"
	"github.com/sips-and-steals/crawler/internal/config"
	"github.com/sips-and-steals/crawler/internal/fetch"
	"github.com/sips-and-steals/crawler/internal/logging"
	"github.com/sips-and-steals/crawler/internal/publish"
	publishpubsub "github.com/sips-and-steals/crawler/internal/publish/pubsub"
	"github.com/sips-and-steals/crawler/internal/ratelimit"
	"github.com/sips-and-steals/crawler/internal/scheduler"
	"github.com/sips-and-steals/crawler/internal/store"
	storememory "github.com/sips-and-steals/crawler/internal/store/memory"
	storepostgres "github.com/sips-and-steals/crawler/internal/store/postgres"
)

// App holds the shared, long-lived services for the application. It is
// built once at startup and handed to the commands that need it.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     store.Store
	Publisher publish.Publisher // nil when pubsub is not configured
	Blobs     archive.BlobStore // nil when archiving is not configured
	Fetcher   *fetch.Client
	Scheduler *scheduler.Scheduler
}

// New constructs the service graph from configuration. Postgres, Pub/Sub,
// and GCS are only dialed when configured; the fallbacks are the in-memory
// store, no publishing, and no archiving (or a local directory archive).
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logger.Info("initializing application services")

	var st store.Store
	if cfg.DB.DSN != "" {
		logger.Info("connecting to postgres")
		st, err = storepostgres.New(ctx, storepostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
	} else {
		logger.Info("using in-memory store")
		st = storememory.New()
	}

	var pub publish.Publisher
	if cfg.PubSub.ProjectID != "" {
		logger.Info("connecting to pub/sub",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName))
		pub, err = publishpubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("initialize pub/sub publisher: %w", err)
		}
	}

	var blobs archive.BlobStore
	switch {
	case cfg.Archive.GCSBucket != "":
		logger.Info("archiving bodies to gcs", zap.String("bucket", cfg.Archive.GCSBucket))
		blobs, err = archivegcs.New(ctx, cfg.Archive.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs archive: %w", err)
		}
	case cfg.Archive.LocalDir != "":
		logger.Info("archiving bodies locally", zap.String("dir", cfg.Archive.LocalDir))
		blobs, err = archivelocal.New(cfg.Archive.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("initialize local archive: %w", err)
		}
	default:
		logger.Info("body archiving disabled")
	}

	clk := clock.NewSystem()
	limiter := ratelimit.New(cfg.RateLimitConfig())
	fetcher := fetch.NewClient(cfg.FetchConfig(), limiter, clk, logger)
	sched := scheduler.New(cfg.SchedulerSettings(), st, fetcher, pub, blobs, clk, logger)

	logger.Info("application services initialized")
	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Publisher: pub,
		Blobs:     blobs,
		Fetcher:   fetcher,
		Scheduler: sched,
	}, nil
}

// Close shuts down the services in reverse dependency order. It is called
// by a Cobra hook after the command finishes.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("closing publisher", zap.Error(err))
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("closing store", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
