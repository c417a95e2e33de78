// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/metrics"
	"github.com/zapsocial/zapfeed/internal/models"
	"github.com/zapsocial/zapfeed/internal/scoring"
)

// Personalization tiers by interaction count.
const (
	tierFallback = "fallback" // no interactions: curated + trending
	tierLight    = "light"    // a few interactions: curated + ranked
	tierFull     = "full"     // enough interactions: full pipeline
)

// Share of the output taken from the curated list in the thin tiers.
const (
	fallbackCuratedShare = 0.7
	lightCuratedShare    = 0.5
)

// Generator produces a user's ranked feed order. Generation degrades
// through tiers as the profile thins out; it never fails outright. The
// worst case is a short or empty list.
type Generator struct {
	sources     *Sources
	curated     CuratedReader
	cfg         config.FeedConfig
	contentType models.ContentType
	logger      zerolog.Logger
	rng         *lockedRand
	now         func() time.Time
}

// NewGenerator creates a generator for one content namespace. A nil rng
// gets a time-seeded source. The generator forks its own state from rng
// at construction so a rand.Rand shared with NewSources is never touched
// from two goroutines.
func NewGenerator(sources *Sources, curated CuratedReader, cfg config.FeedConfig, contentType models.ContentType, logger zerolog.Logger, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	rng = rand.New(rand.NewSource(rng.Int63()))
	return &Generator{
		sources:     sources,
		curated:     curated,
		cfg:         cfg,
		contentType: contentType,
		logger:      logger.With().Str("component", "generator").Str("content_type", contentType.String()).Logger(),
		rng:         newLockedRand(rng),
		now:         time.Now,
	}
}

// Result is one generation outcome.
type Result struct {
	// ItemIDs is the ranked order, deduplicated, at most the configured
	// generation cap long. It may be shorter when candidates ran out;
	// that is degraded output, not an error.
	ItemIDs []string

	// IsFallback marks output from the zero-interaction tier.
	IsFallback bool

	// Tier names the strategy used.
	Tier string
}

// Generate builds a feed order for the profile's personalization tier.
func (g *Generator) Generate(ctx context.Context, profile *models.UserProfile) *Result {
	start := g.now()
	var result *Result
	switch {
	case profile.InteractionCount <= 0:
		result = g.generateFallback(ctx, profile)
	case profile.InteractionCount < g.cfg.MinInteractions:
		result = g.generateLight(ctx, profile)
	default:
		result = g.generateFull(ctx, profile)
	}
	metrics.FeedGenerationDuration.WithLabelValues(result.Tier).Observe(g.now().Sub(start).Seconds())

	g.logger.Debug().
		Str("user_id", profile.UserID).
		Str("tier", result.Tier).
		Int("items", len(result.ItemIDs)).
		Msg("Feed generated")
	return result
}

// exclusionSet merges the IDs a generation must never emit.
func exclusionSet(profile *models.UserProfile) map[string]struct{} {
	exclude := make(map[string]struct{}, len(profile.ViewedItemIDs)+len(profile.BlockedItemIDs))
	for id := range profile.ViewedItemIDs {
		exclude[id] = struct{}{}
	}
	for id := range profile.BlockedItemIDs {
		exclude[id] = struct{}{}
	}
	return exclude
}

// filterBlockedAuthors drops candidates by blocked authors. Sources
// exclude by item ID only, so author blocks apply here.
func filterBlockedAuthors(cands []*models.ScoredCandidate, profile *models.UserProfile) []*models.ScoredCandidate {
	if len(profile.BlockedAuthorIDs) == 0 {
		return cands
	}
	kept := cands[:0]
	for _, c := range cands {
		if _, blocked := profile.BlockedAuthorIDs[c.AuthorID]; !blocked {
			kept = append(kept, c)
		}
	}
	return kept
}

// curatedIDs returns today's curated order, falling back to yesterday's
// when today's batch has not run. Best-effort.
func (g *Generator) curatedIDs(ctx context.Context) []string {
	return curatedOrder(ctx, g.curated, g.now().UTC(), g.logger)
}

// generateFallback serves brand-new users: mostly curated, topped with
// trending, padded with sprinkle.
func (g *Generator) generateFallback(ctx context.Context, profile *models.UserProfile) *Result {
	target := g.cfg.MaxFinal
	exclude := exclusionSet(profile)

	curatedTarget := int(float64(target) * fallbackCuratedShare)
	seen := make(map[string]struct{}, target)
	var ids []string

	curated := g.curatedIDs(ctx)
	if len(curated) > curatedTarget {
		curated = curated[:curatedTarget]
	}
	ids = dedupAppend(ids, seen, curated...)

	trending := filterBlockedAuthors(g.sources.Trending(ctx, exclude, target-len(ids)), profile)
	ids = dedupAppend(ids, seen, candidateIDs(trending)...)

	ids = g.pad(ctx, ids, seen, exclude, target)
	return &Result{ItemIDs: ids, IsFallback: true, Tier: tierFallback}
}

// generateLight serves users with a thin history: half curated, half
// ranked trending-plus-followed.
func (g *Generator) generateLight(ctx context.Context, profile *models.UserProfile) *Result {
	target := g.cfg.MaxFinal
	exclude := exclusionSet(profile)

	curatedTarget := int(float64(target) * lightCuratedShare)
	seen := make(map[string]struct{}, target)
	var ids []string

	curated := g.curatedIDs(ctx)
	kept := make([]string, 0, curatedTarget)
	for _, id := range curated {
		if _, viewed := exclude[id]; viewed {
			continue
		}
		kept = append(kept, id)
		if len(kept) >= curatedTarget {
			break
		}
	}
	ids = dedupAppend(ids, seen, kept...)

	ranked := g.rankedMerge(ctx, profile, exclude,
		g.sources.Trending(ctx, exclude, g.cfg.TrendingLimit),
		g.sources.Followed(ctx, profile.FollowedAuthorIDs, exclude, g.cfg.FollowedLimit),
	)
	for _, c := range ranked {
		if len(ids) >= target {
			break
		}
		ids = dedupAppend(ids, seen, c.ItemID)
	}

	ids = g.pad(ctx, ids, seen, exclude, target)
	return &Result{ItemIDs: ids, Tier: tierLight}
}

// generateFull is the complete pipeline: all four sources merged,
// scored against the profile, ranked, capped.
func (g *Generator) generateFull(ctx context.Context, profile *models.UserProfile) *Result {
	target := g.cfg.MaxFinal
	exclude := exclusionSet(profile)

	ranked := g.rankedMerge(ctx, profile, exclude,
		g.sources.Trending(ctx, exclude, g.cfg.TrendingLimit),
		g.sources.Followed(ctx, profile.FollowedAuthorIDs, exclude, g.cfg.FollowedLimit),
		g.sources.Fresh(ctx, exclude, g.cfg.FreshLimit),
		g.sources.Aged(ctx, exclude, g.cfg.AgedLimit),
	)
	if len(ranked) > target {
		ranked = ranked[:target]
	}

	seen := make(map[string]struct{}, target)
	ids := dedupAppend(nil, seen, candidateIDs(ranked)...)

	ids = g.pad(ctx, ids, seen, exclude, target)
	return &Result{ItemIDs: ids, Tier: tierFull}
}

// rankedMerge merges candidate batches into a map keyed by item ID
// (last write wins), filters author blocks, enriches views, scores, and
// ranks.
func (g *Generator) rankedMerge(ctx context.Context, profile *models.UserProfile, exclude map[string]struct{}, batches ...[]*models.ScoredCandidate) []*models.ScoredCandidate {
	byID := make(map[string]*models.ScoredCandidate)
	var order []string
	for _, batch := range batches {
		for _, c := range batch {
			if _, excludedID := exclude[c.ItemID]; excludedID {
				continue
			}
			if _, exists := byID[c.ItemID]; !exists {
				order = append(order, c.ItemID)
			}
			byID[c.ItemID] = c
		}
	}

	merged := make([]*models.ScoredCandidate, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	merged = filterBlockedAuthors(merged, profile)

	g.sources.EnrichViews(ctx, merged)

	scorer := scoring.NewScorer(rand.New(rand.NewSource(g.rng.Int63())))
	scorer.ScoreAll(merged, profile, g.now())
	scoring.Rank(merged)
	return merged
}

// pad fills a short order with sprinkle up to target. Still short after
// padding means the corpus ran out; the caller serves what there is.
func (g *Generator) pad(ctx context.Context, ids []string, seen map[string]struct{}, exclude map[string]struct{}, target int) []string {
	if len(ids) >= target {
		return ids
	}
	shortfall := target - len(ids)
	if shortfall < g.cfg.MinTopUp {
		return ids
	}

	// Sprinkle must not re-emit what the order already holds.
	fullExclude := make(map[string]struct{}, len(exclude)+len(seen))
	for id := range exclude {
		fullExclude[id] = struct{}{}
	}
	for id := range seen {
		fullExclude[id] = struct{}{}
	}

	sprinkle := g.sources.Sprinkle(ctx, fullExclude, shortfall)
	return dedupAppend(ids, seen, candidateIDs(sprinkle)...)
}
