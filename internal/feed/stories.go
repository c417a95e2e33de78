// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/metrics"
	"github.com/zapsocial/zapfeed/internal/models"
)

// StoryService serves the global story feed. Unlike the ranked feeds it
// is the same for every user: public stories from the last day, most
// liked first, behind a single shared cache entry.
type StoryService struct {
	stories StoryReader
	cache   StoryCache
	tasks   BackgroundTasks
	cfg     config.StoriesConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStoryService creates the story feed service.
func NewStoryService(stories StoryReader, cache StoryCache, tasks BackgroundTasks, cfg config.StoriesConfig, logger zerolog.Logger) *StoryService {
	return &StoryService{
		stories: stories,
		cache:   cache,
		tasks:   tasks,
		cfg:     cfg,
		logger:  logger.With().Str("component", "story-service").Logger(),
		now:     time.Now,
	}
}

// GetStories serves the story feed, limited to the requested size. An
// absent limit means the whole feed, up to the result cap.
func (s *StoryService) GetStories(ctx context.Context, limit int) (*models.StoryFeedResponse, error) {
	limit = clampPerPage(limit, s.cfg.MaxResults, s.cfg.MaxResults)

	entry, err := s.cache.Get(ctx)
	if err == nil {
		age := s.now().Sub(entry.UpdatedAt)
		if age <= s.cfg.CacheTTL {
			// Past half TTL the cache still serves, but a refresh starts
			// so the entry never actually expires under steady traffic.
			if age > s.cfg.CacheTTL/2 {
				s.tasks.RefreshStories()
			}
			metrics.FeedRequestsTotal.WithLabelValues(models.ContentStory.String(), models.SourceCache).Inc()
			return s.respond(entry, limit, models.SourceCache), nil
		}
	} else if !isNotFound(err) {
		s.logger.Warn().Err(err).Msg("Story cache read failed, regenerating")
	}

	entry, err = s.RefreshNow(ctx)
	if err != nil {
		return nil, err
	}
	metrics.FeedRequestsTotal.WithLabelValues(models.ContentStory.String(), models.SourceGenerated).Inc()
	return s.respond(entry, limit, models.SourceGenerated), nil
}

func (s *StoryService) respond(entry *models.StoryCacheEntry, limit int, source string) *models.StoryFeedResponse {
	ids := entry.OrderedStoryIDs
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return &models.StoryFeedResponse{
		StoryIDs:    ids,
		Total:       entry.Total,
		HasMore:     limit < entry.Total,
		Source:      source,
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
	}
}

// RefreshNow rebuilds the story order from the store and writes the
// cache. Also the body of the background refresh task.
func (s *StoryService) RefreshNow(ctx context.Context) (*models.StoryCacheEntry, error) {
	cutoff := s.now().Add(-s.cfg.ExpiryWindow)
	stories, err := s.stories.ListActive(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list active stories: %w", err)
	}

	// Most liked first; recency breaks ties.
	sort.SliceStable(stories, func(i, j int) bool {
		if stories[i].LikeCount != stories[j].LikeCount {
			return stories[i].LikeCount > stories[j].LikeCount
		}
		return stories[i].CreatedAt.After(stories[j].CreatedAt)
	})
	if len(stories) > s.cfg.MaxResults {
		stories = stories[:s.cfg.MaxResults]
	}

	ids := make([]string, len(stories))
	for i, st := range stories {
		ids[i] = st.ID
	}

	entry := &models.StoryCacheEntry{
		OrderedStoryIDs: ids,
		Total:           len(ids),
		UpdatedAt:       s.now(),
	}
	if err := s.cache.Put(ctx, entry); err != nil {
		// Serve the regenerated order anyway; only caching suffered.
		s.logger.Warn().Err(err).Msg("Story cache write failed")
	}
	return entry, nil
}
