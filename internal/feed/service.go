// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/metrics"
	"github.com/zapsocial/zapfeed/internal/models"
)

// ErrUnknownContentType is returned for a namespace the service does not
// serve.
var ErrUnknownContentType = fmt.Errorf("feed: unknown content type")

// endOfFeedFraction is the share of the cached order a reader must have
// consumed before the service will admit the feed is over. Anything less
// reports hasMore=true: a background refresh or top-up is already on its
// way, so claiming exhaustion early would strand the client.
const endOfFeedFraction = 0.95

// Namespace bundles the per-content-type pipeline pieces.
type Namespace struct {
	ContentType models.ContentType
	Cfg         config.FeedConfig
	Cache       *Cache
	Generator   *Generator
	Sources     *Sources
	Curated     CuratedReader
}

// Service is the serving facade: it answers page requests from cache
// when it can, falls back through curated lists to synchronous
// generation when it cannot, and keeps caches warm through the
// background task surface.
type Service struct {
	namespaces map[models.ContentType]*Namespace
	profiles   *ProfileBuilder
	tasks      BackgroundTasks
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService assembles the serving facade.
func NewService(profiles *ProfileBuilder, tasks BackgroundTasks, logger zerolog.Logger, namespaces ...*Namespace) *Service {
	byType := make(map[models.ContentType]*Namespace, len(namespaces))
	for _, ns := range namespaces {
		byType[ns.ContentType] = ns
	}
	return &Service{
		namespaces: byType,
		profiles:   profiles,
		tasks:      tasks,
		logger:     logger.With().Str("component", "feed-service").Logger(),
		now:        time.Now,
	}
}

// PageRequest is one feed page request.
type PageRequest struct {
	UserID           string
	ContentType      models.ContentType
	PerPage          int
	Cursor           string // last item ID the client saw
	LastViewedItemID string
}

// GetPage serves one feed page. It only fails on invalid input; storage
// trouble degrades to fallback content instead.
func (s *Service) GetPage(ctx context.Context, req PageRequest) (*models.FeedPageResponse, error) {
	ns, ok := s.namespaces[req.ContentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, req.ContentType)
	}
	perPage := clampPerPage(req.PerPage, ns.Cfg.PerPage, ns.Cfg.MaxPerPage)

	entry, fresh, err := ns.Cache.Read(ctx, req.UserID)
	if err != nil && !isCacheMiss(err) {
		// A failing store read serves fallback rather than an error.
		s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("Cache read failed, serving fallback")
	}

	if entry != nil && fresh {
		return s.serveFromCache(ns, req, entry, perPage), nil
	}
	return s.serveFallback(ctx, ns, req, perPage), nil
}

func isCacheMiss(err error) bool {
	return err == ErrCacheMiss
}

// serveFromCache paginates the cached order and schedules the
// housekeeping that keeps it warm.
func (s *Service) serveFromCache(ns *Namespace, req PageRequest, entry *models.FeedCacheEntry, perPage int) *models.FeedPageResponse {
	page := Paginate(entry.OrderedItemIDs, req.Cursor, perPage)

	s.tasks.Bookmark(req.UserID, ns.ContentType, page.Position, req.LastViewedItemID)

	// Every hit refreshes in the background; deep readers refresh
	// urgently because they are outrunning the cache.
	urgent := page.Position >= ns.Cfg.RefreshThreshold
	s.tasks.RefreshFeed(req.UserID, ns.ContentType, urgent)

	remaining := len(entry.OrderedItemIDs) - page.Position
	if remaining <= perPage {
		s.tasks.TopUpFeed(req.UserID, ns.ContentType, perPage)
	}

	source := models.SourceCache
	if entry.IsFallback {
		source = models.SourceCacheFallback
	}
	metrics.FeedRequestsTotal.WithLabelValues(ns.ContentType.String(), source).Inc()

	return &models.FeedPageResponse{
		ItemIDs:     page.ItemIDs,
		HasMore:     s.maskHasMore(ns, page, entry),
		NextCursor:  page.NextCursor,
		Source:      source,
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
	}
}

// maskHasMore implements the end-of-feed policy: report hasMore=false
// only when the reader has consumed at least endOfFeedFraction of an
// order that generation could not fill to its cap, which is affirmative
// evidence the corpus ran dry. In every other case, including any the
// check cannot evaluate, report true and let the background pipeline
// bring more.
func (s *Service) maskHasMore(ns *Namespace, page Page, entry *models.FeedCacheEntry) bool {
	if page.HasMore {
		return true
	}
	total := len(entry.OrderedItemIDs)
	if total == 0 || total >= ns.Cfg.MaxFinal {
		return true
	}
	if float64(page.Position) < endOfFeedFraction*float64(total) {
		return true
	}
	return false
}

// serveFallback handles a cache miss (or stale entry): curated list if
// one exists, otherwise synchronous generation.
func (s *Service) serveFallback(ctx context.Context, ns *Namespace, req PageRequest, perPage int) *models.FeedPageResponse {
	if curated := curatedOrder(ctx, ns.Curated, s.now().UTC(), s.logger); len(curated) > 0 {
		page := Paginate(curated, req.Cursor, perPage)

		// Personalized content is on its way; until it lands the feed
		// must not claim exhaustion.
		s.tasks.ReplacePersonalized(req.UserID, ns.ContentType)
		metrics.FeedRequestsTotal.WithLabelValues(ns.ContentType.String(), models.SourceCurated).Inc()

		return &models.FeedPageResponse{
			ItemIDs:     page.ItemIDs,
			HasMore:     true,
			NextCursor:  page.NextCursor,
			Source:      models.SourceCurated,
			GeneratedAt: s.now().UTC().Format(time.RFC3339),
		}
	}
	return s.serveGenerated(ctx, ns, req, perPage)
}

// serveGenerated runs generation inline, caches the result, and serves
// the first page from it.
func (s *Service) serveGenerated(ctx context.Context, ns *Namespace, req PageRequest, perPage int) *models.FeedPageResponse {
	profile := s.profiles.Build(ctx, req.UserID)
	result := ns.Generator.Generate(ctx, profile)

	// An empty generation never overwrites the cache; a stale entry is
	// still a better next read than nothing.
	if len(result.ItemIDs) > 0 {
		if err := ns.Cache.WriteReplace(ctx, req.UserID, result.ItemIDs, result.IsFallback); err != nil {
			// The response is still served; only the next request pays.
			s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("Cache write after generation failed")
		}
	}

	page := Paginate(result.ItemIDs, req.Cursor, perPage)
	hasMore := page.HasMore

	// A short page straight out of generation gets padded inline so the
	// client never renders a half-empty first screen.
	if len(page.ItemIDs) < perPage {
		seen := make(map[string]struct{}, len(result.ItemIDs))
		for _, id := range result.ItemIDs {
			seen[id] = struct{}{}
		}
		for id := range profile.ViewedItemIDs {
			seen[id] = struct{}{}
		}
		extra := ns.Sources.Sprinkle(ctx, seen, perPage-len(page.ItemIDs))
		if len(extra) > 0 {
			page.ItemIDs = append(page.ItemIDs, candidateIDs(extra)...)
			hasMore = true
		}
	}

	source := models.SourceGenerated
	switch {
	case result.IsFallback:
		source = models.SourceFallback
	case result.Tier == tierFull:
		source = models.SourcePersonalized
	}
	metrics.FeedRequestsTotal.WithLabelValues(ns.ContentType.String(), source).Inc()

	return &models.FeedPageResponse{
		ItemIDs:     page.ItemIDs,
		HasMore:     hasMore,
		NextCursor:  page.NextCursor,
		Source:      source,
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
	}
}

// curatedOrder reads today's curated order, then yesterday's.
// Best-effort.
func curatedOrder(ctx context.Context, curated CuratedReader, now time.Time, logger zerolog.Logger) []string {
	if curated == nil {
		return nil
	}
	for _, date := range []string{
		now.Format("2006-01-02"),
		now.AddDate(0, 0, -1).Format("2006-01-02"),
	} {
		list, err := curated.Get(ctx, date)
		if err == nil {
			return list.OrderedItemIDs
		}
		if !isNotFound(err) {
			logger.Warn().Err(err).Str("date", date).Msg("Curated list read failed")
		}
	}
	return nil
}

// RefreshFeedNow regenerates the user's feed and merges it onto the
// cached order. Runs inside the background task pool.
func (s *Service) RefreshFeedNow(ctx context.Context, userID string, contentType models.ContentType, urgent bool) error {
	ns, ok := s.namespaces[contentType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}

	profile := s.profiles.Build(ctx, userID)
	result := ns.Generator.Generate(ctx, profile)
	if len(result.ItemIDs) == 0 {
		s.logger.Debug().Str("user_id", userID).Bool("urgent", urgent).Msg("Refresh produced nothing")
		return nil
	}
	return ns.Cache.WriteAppend(ctx, userID, result.ItemIDs)
}

// ReplacePersonalizedNow regenerates and fully replaces the cached
// order, upgrading a curated fallback to personalized content.
func (s *Service) ReplacePersonalizedNow(ctx context.Context, userID string, contentType models.ContentType) error {
	ns, ok := s.namespaces[contentType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}

	profile := s.profiles.Build(ctx, userID)
	result := ns.Generator.Generate(ctx, profile)
	if len(result.ItemIDs) == 0 {
		return nil
	}
	return ns.Cache.WriteReplace(ctx, userID, result.ItemIDs, result.IsFallback)
}

// TopUpFeedNow appends tag-similar and sprinkle candidates to a feed
// nearing exhaustion. The whole operation is time-boxed; on timeout
// whatever was gathered (possibly nothing) is the result.
func (s *Service) TopUpFeedNow(ctx context.Context, userID string, contentType models.ContentType, count int) error {
	ns, ok := s.namespaces[contentType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}
	if count < ns.Cfg.MinTopUp {
		count = ns.Cfg.MinTopUp
	}

	ctx, cancel := context.WithTimeout(ctx, ns.Cfg.TopUpTimeout)
	defer cancel()

	profile := s.profiles.Build(ctx, userID)

	// The cached order joins the exclusion set so top-up only ever adds.
	exclude := exclusionSet(profile)
	if entry, _, err := ns.Cache.Read(ctx, userID); err == nil {
		for _, id := range entry.OrderedItemIDs {
			exclude[id] = struct{}{}
		}
	}

	cands := filterBlockedAuthors(ns.Sources.TagSimilar(ctx, profile.TagAffinity, exclude, count), profile)
	for _, c := range cands {
		exclude[c.ItemID] = struct{}{}
	}
	if len(cands) < count {
		sprinkle := filterBlockedAuthors(ns.Sources.Sprinkle(ctx, exclude, count-len(cands)), profile)
		cands = append(cands, sprinkle...)
	}
	if len(cands) == 0 {
		return nil
	}
	return ns.Cache.WriteAppend(ctx, userID, candidateIDs(cands))
}

// BookmarkNow persists the reader's position. Best-effort.
func (s *Service) BookmarkNow(ctx context.Context, userID string, contentType models.ContentType, position int, lastViewedItemID string) {
	if ns, ok := s.namespaces[contentType]; ok {
		ns.Cache.Bookmark(ctx, userID, position, lastViewedItemID)
	}
}
