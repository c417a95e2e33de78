// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package main is the entry point for the Zapfeed server.
//
// Zapfeed serves personalized post, short, and story feeds for a social
// short-form content app. The server initializes components in order:
//
//  1. Configuration: layered defaults, config.yaml, ZAPFEED_* env (koanf v2)
//  2. Logging: zerolog, JSON by default
//  3. Store: embedded BadgerDB document store behind a circuit breaker
//  4. Feed pipeline: candidate sources, scorer, generator, and cache
//     for the post and short namespaces, plus the global story feed
//  5. Curated batch: daily top-engagement lists with a midnight-UTC scheduler
//  6. Background tasks: in-process pub/sub runner for refreshes and top-ups
//  7. HTTP server: chi router with auth, rate limiting, and Prometheus metrics
//
// Long-lived services run under a suture supervision tree and shut down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/api"
	"github.com/zapsocial/zapfeed/internal/auth"
	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/curated"
	"github.com/zapsocial/zapfeed/internal/feed"
	"github.com/zapsocial/zapfeed/internal/logging"
	"github.com/zapsocial/zapfeed/internal/models"
	"github.com/zapsocial/zapfeed/internal/store"
	"github.com/zapsocial/zapfeed/internal/supervisor"
	"github.com/zapsocial/zapfeed/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()
	logger.Info().
		Str("addr", cfg.Server.Addr()).
		Bool("in_memory_store", cfg.Store.InMemory).
		Bool("require_auth", cfg.Security.RequireAuth).
		Msg("Starting zapfeed")

	// Store: badger behind a circuit breaker.
	badgerStore, err := store.OpenBadger(store.BadgerOptions{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := badgerStore.Close(); err != nil {
			logger.Error().Err(err).Msg("Store close failed")
		}
	}()
	db := store.NewBreakerStore(
		badgerStore,
		store.DefaultBreakerSettings(cfg.Store.BreakerMaxFailures, cfg.Store.BreakerTimeout),
		logger,
	)

	// Shared repositories.
	analytics := store.NewAnalyticsRepo(db)
	interactions := store.NewInteractionRepo(db)
	graph := store.NewGraphRepo(db)
	profiles := feed.NewProfileBuilder(analytics, interactions, graph, logger)

	posts := store.NewContentRepo(db, store.CollectionPosts)
	shorts := store.NewContentRepo(db, store.CollectionShorts)
	curatedPosts := store.NewCuratedRepo(db, store.CollectionCuratedPosts)
	curatedShorts := store.NewCuratedRepo(db, store.CollectionCuratedShorts)

	postNS := buildNamespace(models.ContentPost, cfg.Feed, posts, analytics, curatedPosts,
		store.NewFeedCacheRepo(db, store.CollectionFeedCachePosts), logger)
	shortNS := buildNamespace(models.ContentShort, cfg.Shorts, shorts, analytics, curatedShorts,
		store.NewFeedCacheRepo(db, store.CollectionFeedCacheShort), logger)

	// The feed service and task runner reference each other: the
	// service schedules tasks, handlers call back into the service.
	// The runner is handed its workers after construction via wiring
	// structs, so build the service first with the runner placeholder.
	var runner *tasks.Runner
	taskSurface := &deferredTasks{}
	feeds := feed.NewService(profiles, taskSurface, logger, postNS, shortNS)
	stories := feed.NewStoryService(store.NewStoryRepo(db), store.NewStoryCacheRepo(db), taskSurface, cfg.Stories, logger)

	curatedBuilder := curated.NewBuilder(analytics, cfg.Curated, logger,
		curated.Target{ContentType: models.ContentPost, Content: posts, Lists: curatedPosts, Count: cfg.Curated.Count},
		curated.Target{ContentType: models.ContentShort, Content: shorts, Lists: curatedShorts, Count: cfg.Curated.ShortsCount},
	)

	runner = tasks.NewRunner(feeds, stories, curatedBuilder, cfg.Tasks, logger)
	taskSurface.delegate = runner
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Error().Err(err).Msg("Task runner close failed")
		}
	}()

	// HTTP surface.
	var verifier *auth.Verifier
	if cfg.Security.JWTSecret != "" {
		verifier, err = auth.NewVerifier(cfg.Security)
		if err != nil {
			return err
		}
	} else if cfg.Security.RequireAuth {
		return errors.New("security.require_auth is set but security.jwt_secret is empty")
	}

	ready := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var probe struct{}
		err := db.Get(ctx, store.CollectionPosts, "readiness-probe", &probe)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}
	handler := api.NewHandler(feeds, stories, runner, ready, logger)
	router := api.NewRouter(handler, verifier, cfg.Server, cfg.Security)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Supervision tree.
	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logger, treeCfg)
	tree.Add(runner)
	tree.Add(curated.NewScheduler(curatedBuilder, cfg.Curated, logger))
	tree.Add(supervisor.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))
	if !cfg.Store.InMemory {
		tree.Add(supervisor.NewStoreGCService(badgerStore, cfg.Store.GCInterval))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Msg("Supervision tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// buildNamespace assembles one content type's feed pipeline.
func buildNamespace(
	contentType models.ContentType,
	cfg config.FeedConfig,
	content *store.ContentRepo,
	analytics *store.AnalyticsRepo,
	curatedLists *store.CuratedRepo,
	cacheRepo *store.FeedCacheRepo,
	logger zerolog.Logger,
) *feed.Namespace {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sources := feed.NewSources(content, analytics, cfg, logger, rng)
	return &feed.Namespace{
		ContentType: contentType,
		Cfg:         cfg,
		Cache:       feed.NewCache(cacheRepo, contentType, cfg.CacheTTL, cfg.MaxCacheSize, logger),
		Generator:   feed.NewGenerator(sources, curatedLists, cfg, contentType, logger, rng),
		Sources:     sources,
		Curated:     curatedLists,
	}
}

// deferredTasks forwards the background task surface to the runner,
// which is constructed after the services that schedule through it.
type deferredTasks struct {
	delegate feed.BackgroundTasks
}

func (d *deferredTasks) RefreshFeed(userID string, contentType models.ContentType, urgent bool) {
	if d.delegate != nil {
		d.delegate.RefreshFeed(userID, contentType, urgent)
	}
}

func (d *deferredTasks) TopUpFeed(userID string, contentType models.ContentType, count int) {
	if d.delegate != nil {
		d.delegate.TopUpFeed(userID, contentType, count)
	}
}

func (d *deferredTasks) Bookmark(userID string, contentType models.ContentType, position int, lastViewedItemID string) {
	if d.delegate != nil {
		d.delegate.Bookmark(userID, contentType, position, lastViewedItemID)
	}
}

func (d *deferredTasks) ReplacePersonalized(userID string, contentType models.ContentType) {
	if d.delegate != nil {
		d.delegate.ReplacePersonalized(userID, contentType)
	}
}

func (d *deferredTasks) RefreshStories() {
	if d.delegate != nil {
		d.delegate.RefreshStories()
	}
}
