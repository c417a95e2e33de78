// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/models"
	"github.com/zapsocial/zapfeed/internal/store"
)

var feedTestTime = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

// mockTasks records background task requests.
type mockTasks struct {
	mu           sync.Mutex
	refreshes    []refreshCall
	topUps       []string
	bookmarks    []bookmarkCall
	replacements []string
	storyRefresh int
}

type refreshCall struct {
	userID string
	urgent bool
}

type bookmarkCall struct {
	userID   string
	position int
	viewed   string
}

func (m *mockTasks) RefreshFeed(userID string, _ models.ContentType, urgent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes = append(m.refreshes, refreshCall{userID, urgent})
}

func (m *mockTasks) TopUpFeed(userID string, _ models.ContentType, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topUps = append(m.topUps, userID)
}

func (m *mockTasks) Bookmark(userID string, _ models.ContentType, position int, viewed string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookmarks = append(m.bookmarks, bookmarkCall{userID, position, viewed})
}

func (m *mockTasks) ReplacePersonalized(userID string, _ models.ContentType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replacements = append(m.replacements, userID)
}

func (m *mockTasks) RefreshStories() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storyRefresh++
}

// pipeline is a fully wired feed stack over an in-memory store.
type pipeline struct {
	store     *store.MemoryStore
	content   *store.ContentRepo
	analytics *store.AnalyticsRepo
	inter     *store.InteractionRepo
	graph     *store.GraphRepo
	curated   *store.CuratedRepo
	cacheRepo *store.FeedCacheRepo
	cache     *Cache
	sources   *Sources
	gen       *Generator
	profiles  *ProfileBuilder
	tasks     *mockTasks
	service   *Service
	cfg       config.FeedConfig
}

// newPipeline builds the stack with a small deterministic config.
func newPipeline(t *testing.T, mutate func(*config.FeedConfig)) *pipeline {
	t.Helper()

	cfg := config.Default().Feed
	cfg.MaxFinal = 50
	cfg.MaxCacheSize = 100
	cfg.TrendingLimit = 30
	cfg.FollowedLimit = 20
	cfg.FreshLimit = 10
	cfg.AgedLimit = 10
	if mutate != nil {
		mutate(&cfg)
	}

	ms := store.NewMemoryStore()
	p := &pipeline{
		store:     ms,
		content:   store.NewContentRepo(ms, store.CollectionPosts),
		analytics: store.NewAnalyticsRepo(ms),
		inter:     store.NewInteractionRepo(ms),
		graph:     store.NewGraphRepo(ms),
		curated:   store.NewCuratedRepo(ms, store.CollectionCuratedPosts),
		cacheRepo: store.NewFeedCacheRepo(ms, store.CollectionFeedCachePosts),
		tasks:     &mockTasks{},
		cfg:       cfg,
	}

	logger := zerolog.Nop()
	now := func() time.Time { return feedTestTime }

	p.cache = NewCache(p.cacheRepo, models.ContentPost, cfg.CacheTTL, cfg.MaxCacheSize, logger)
	p.cache.now = now

	p.sources = NewSources(p.content, p.analytics, cfg, logger, rand.New(rand.NewSource(1)))
	p.sources.now = now

	p.gen = NewGenerator(p.sources, p.curated, cfg, models.ContentPost, logger, rand.New(rand.NewSource(1)))
	p.gen.now = now

	p.profiles = NewProfileBuilder(p.analytics, p.inter, p.graph, logger)

	p.service = NewService(p.profiles, p.tasks, logger, &Namespace{
		ContentType: models.ContentPost,
		Cfg:         cfg,
		Cache:       p.cache,
		Generator:   p.gen,
		Sources:     p.sources,
		Curated:     p.curated,
	})
	p.service.now = now

	return p
}

// seedItems writes n eligible items, newest first by index, with like
// counts descending so item-0000 is both newest and most liked.
func (p *pipeline) seedItems(t *testing.T, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("item-%04d", i)
		ids[i] = id
		item := &models.ContentItem{
			ID:        id,
			AuthorID:  fmt.Sprintf("author-%d", i%5),
			Tags:      []string{fmt.Sprintf("tag-%d", i%3)},
			CreatedAt: feedTestTime.Add(-time.Duration(i) * time.Hour),
			LikeCount: int64(n - i),
		}
		if err := p.store.Set(ctx, store.CollectionPosts, id, item); err != nil {
			t.Fatalf("seed item %s: %v", id, err)
		}
	}
	return ids
}

// seedInteractions gives the user n liked+viewed interactions against
// distinct synthetic item IDs (not the seeded corpus).
func (p *pipeline) seedInteractions(t *testing.T, userID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		in := &models.Interaction{Liked: true, Viewed: true}
		if err := p.inter.Put(ctx, userID, fmt.Sprintf("seen-%04d", i), in); err != nil {
			t.Fatalf("seed interaction: %v", err)
		}
	}
}

// seedCurated writes a curated list for the given date.
func (p *pipeline) seedCurated(t *testing.T, date string, ids []string) {
	t.Helper()
	err := p.curated.Put(context.Background(), &models.DailyCuratedList{
		Date:           date,
		OrderedItemIDs: ids,
		Count:          len(ids),
		UpdatedAt:      feedTestTime,
	})
	if err != nil {
		t.Fatalf("seed curated %s: %v", date, err)
	}
}

func assertNoDuplicates(t *testing.T, ids []string) {
	t.Helper()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q in %v", id, ids)
		}
		seen[id] = struct{}{}
	}
}
