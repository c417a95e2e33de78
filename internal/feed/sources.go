// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/metrics"
	"github.com/zapsocial/zapfeed/internal/models"
)

// Over-fetch factors. Sources fetch more than asked and filter down so
// exclusions do not starve a page.
const (
	trendingOverFetch = 4
	freshOverFetch    = 2
	agedOverFetch     = 3
	tagOverFetch      = 2

	// followedBatchSize bounds author-set queries per batch.
	followedBatchSize = 10

	// agedMaxOffset randomizes where the aged window starts so repeat
	// generations surface different back-catalog items.
	agedMaxOffset = 50

	// agedRetention is the random keep probability for aged candidates.
	agedRetention = 0.3

	// sprinkleMinFetch floors the sprinkle over-fetch pool.
	sprinkleMinFetch = 100

	// topAffinityTags is how many of the user's strongest tags the
	// tag-similar source queries.
	topAffinityTags = 3
)

// Sources fetches ranked-feed candidates from the content store. Every
// fetch is best-effort: a store failure logs, counts an error metric,
// and returns no candidates.
type Sources struct {
	content   ContentReader
	analytics AnalyticsReader
	cfg       config.FeedConfig
	logger    zerolog.Logger
	rng       *lockedRand
	now       func() time.Time
}

// NewSources creates the candidate fetchers for one content namespace.
// A nil rng gets a time-seeded source.
func NewSources(content ContentReader, analytics AnalyticsReader, cfg config.FeedConfig, logger zerolog.Logger, rng *rand.Rand) *Sources {
	return &Sources{
		content:   content,
		analytics: analytics,
		cfg:       cfg,
		logger:    logger.With().Str("component", "sources").Logger(),
		rng:       newLockedRand(rng),
		now:       time.Now,
	}
}

// eligible reports whether an item may appear in any feed at all.
func eligible(item *models.ContentItem) bool {
	return !item.IsDeleted && !item.IsReply()
}

// excluded reports whether the exclusion set rules the item out.
func excluded(item *models.ContentItem, exclude map[string]struct{}) bool {
	if exclude == nil {
		return false
	}
	_, ok := exclude[item.ID]
	return ok
}

func toCandidate(item *models.ContentItem) *models.ScoredCandidate {
	return &models.ScoredCandidate{
		ItemID:      item.ID,
		AuthorID:    item.AuthorID,
		Tags:        item.Tags,
		CreatedAt:   item.CreatedAt,
		LikeCount:   item.LikeCount,
		RepostCount: item.RepostCount,
	}
}

// fetch runs one best-effort list with the standard metrics and
// log-and-empty error handling.
func (s *Sources) fetch(ctx context.Context, source string, filter func(*models.ContentItem) bool) []*models.ContentItem {
	items, err := s.content.List(ctx, filter, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("source", source).Msg("Candidate fetch failed, returning empty")
		metrics.CandidateFetchErrors.WithLabelValues(source).Inc()
		return nil
	}
	return items
}

// finish sorts newest-first, applies exclusions, truncates, and records
// the fetched count.
func (s *Sources) finish(source string, items []*models.ContentItem, exclude map[string]struct{}, overFetched, count int) []*models.ScoredCandidate {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if overFetched > 0 && len(items) > overFetched {
		items = items[:overFetched]
	}

	cands := make([]*models.ScoredCandidate, 0, count)
	for _, item := range items {
		if excluded(item, exclude) {
			continue
		}
		cands = append(cands, toCandidate(item))
		if len(cands) >= count {
			break
		}
	}
	metrics.CandidatesFetched.WithLabelValues(source).Add(float64(len(cands)))
	return cands
}

// Trending returns the newest eligible items globally.
func (s *Sources) Trending(ctx context.Context, exclude map[string]struct{}, count int) []*models.ScoredCandidate {
	if count < 1 {
		return nil
	}
	items := s.fetch(ctx, "trending", eligible)
	return s.finish("trending", items, exclude, count*trendingOverFetch, count)
}

// Followed returns recent items by followed authors. Authors are queried
// in batches with per-batch caps proportional to the batch's share of
// the follow set.
func (s *Sources) Followed(ctx context.Context, followed map[string]struct{}, exclude map[string]struct{}, count int) []*models.ScoredCandidate {
	if count < 1 || len(followed) == 0 {
		return nil
	}

	authorIDs := make([]string, 0, len(followed))
	for id := range followed {
		authorIDs = append(authorIDs, id)
	}
	sort.Strings(authorIDs)

	batches := (len(authorIDs) + followedBatchSize - 1) / followedBatchSize
	perBatch := (count + batches - 1) / batches

	var out []*models.ScoredCandidate
	for start := 0; start < len(authorIDs); start += followedBatchSize {
		end := start + followedBatchSize
		if end > len(authorIDs) {
			end = len(authorIDs)
		}
		batch := make(map[string]struct{}, end-start)
		for _, id := range authorIDs[start:end] {
			batch[id] = struct{}{}
		}

		items := s.fetch(ctx, "followed", func(item *models.ContentItem) bool {
			if !eligible(item) {
				return false
			}
			_, ok := batch[item.AuthorID]
			return ok
		})
		out = append(out, s.finish("followed", items, exclude, 0, perBatch)...)
		if len(out) >= count {
			out = out[:count]
			break
		}
	}
	return out
}

// Fresh returns eligible items created inside the fresh window.
func (s *Sources) Fresh(ctx context.Context, exclude map[string]struct{}, count int) []*models.ScoredCandidate {
	if count < 1 {
		return nil
	}
	cutoff := s.now().Add(-s.cfg.FreshWindow)
	items := s.fetch(ctx, "fresh", func(item *models.ContentItem) bool {
		return eligible(item) && !item.CreatedAt.Before(cutoff)
	})
	return s.finish("fresh", items, exclude, count*freshOverFetch, count)
}

// Aged resurfaces back-catalog items older than the aged window. A
// random offset into the window plus random retention keeps repeat
// generations from resurfacing the same items.
func (s *Sources) Aged(ctx context.Context, exclude map[string]struct{}, count int) []*models.ScoredCandidate {
	if count < 1 {
		return nil
	}
	cutoff := s.now().Add(-s.cfg.AgedWindow)
	items := s.fetch(ctx, "aged", func(item *models.ContentItem) bool {
		return eligible(item) && item.CreatedAt.Before(cutoff)
	})

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if offset := s.rng.Intn(agedMaxOffset); offset < len(items) {
		items = items[offset:]
	} else {
		items = nil
	}
	if limit := count * agedOverFetch; len(items) > limit {
		items = items[:limit]
	}

	cands := make([]*models.ScoredCandidate, 0, count)
	for _, item := range items {
		if excluded(item, exclude) || s.rng.Float64() >= agedRetention {
			continue
		}
		cands = append(cands, toCandidate(item))
		if len(cands) >= count {
			break
		}
	}
	metrics.CandidatesFetched.WithLabelValues("aged").Add(float64(len(cands)))
	return cands
}

// TagSimilar returns recent items sharing the user's strongest affinity
// tags. Used by the top-up path when a feed nears exhaustion.
func (s *Sources) TagSimilar(ctx context.Context, tagAffinity map[string]float64, exclude map[string]struct{}, count int) []*models.ScoredCandidate {
	if count < 1 || len(tagAffinity) == 0 {
		return nil
	}

	topTags := strongestTags(tagAffinity, topAffinityTags)

	seen := make(map[string]struct{})
	var merged []*models.ScoredCandidate
	for _, tag := range topTags {
		items := s.fetch(ctx, "tag_similar", func(item *models.ContentItem) bool {
			return eligible(item) && hasTag(item, tag)
		})
		for _, c := range s.finish("tag_similar", items, exclude, count*tagOverFetch, count) {
			if _, ok := seen[c.ItemID]; ok {
				continue
			}
			seen[c.ItemID] = struct{}{}
			merged = append(merged, c)
		}
	}
	if len(merged) > count {
		merged = merged[:count]
	}
	return merged
}

// Sprinkle returns a shuffled random sample of recent items, used to
// pad short feeds and keep them from going stale-homogeneous.
func (s *Sources) Sprinkle(ctx context.Context, exclude map[string]struct{}, count int) []*models.ScoredCandidate {
	if count < 1 {
		return nil
	}
	fetchLimit := count * agedOverFetch
	if fetchLimit < sprinkleMinFetch {
		fetchLimit = sprinkleMinFetch
	}

	items := s.fetch(ctx, "sprinkle", eligible)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > fetchLimit {
		items = items[:fetchLimit]
	}

	s.rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})

	cands := make([]*models.ScoredCandidate, 0, count)
	for _, item := range items {
		if excluded(item, exclude) {
			continue
		}
		cands = append(cands, toCandidate(item))
		if len(cands) >= count {
			break
		}
	}
	metrics.CandidatesFetched.WithLabelValues("sprinkle").Add(float64(len(cands)))
	return cands
}

// EnrichViews fills in view counts, best-effort per candidate.
func (s *Sources) EnrichViews(ctx context.Context, cands []*models.ScoredCandidate) {
	for _, c := range cands {
		views, err := s.analytics.ItemViews(ctx, c.ItemID)
		if err != nil {
			s.logger.Debug().Err(err).Str("item_id", c.ItemID).Msg("View count read failed")
			continue
		}
		c.ViewCount = views
	}
}

// strongestTags returns the n highest-affinity tags, ties broken by name
// for determinism.
func strongestTags(affinity map[string]float64, n int) []string {
	tags := make([]string, 0, len(affinity))
	for tag := range affinity {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if affinity[tags[i]] != affinity[tags[j]] {
			return affinity[tags[i]] > affinity[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

func hasTag(item *models.ContentItem, tag string) bool {
	for _, t := range item.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
