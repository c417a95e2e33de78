// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package curated builds the daily curated lists: the globally
// top-engaging items per content namespace, computed once per UTC day
// and served as the fallback feed for users without a usable cache.
package curated

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/metrics"
	"github.com/zapsocial/zapfeed/internal/models"
	"github.com/zapsocial/zapfeed/internal/scoring"
)

// ContentLister lists content items.
type ContentLister interface {
	List(ctx context.Context, filter func(*models.ContentItem) bool, limit int) ([]*models.ContentItem, error)
}

// ViewsReader reads per-item view counts.
type ViewsReader interface {
	ItemViews(ctx context.Context, itemID string) (int64, error)
}

// ListStore persists daily curated lists.
type ListStore interface {
	Get(ctx context.Context, date string) (*models.DailyCuratedList, error)
	Put(ctx context.Context, list *models.DailyCuratedList) error
}

// Target is one namespace the builder curates.
type Target struct {
	ContentType models.ContentType
	Content     ContentLister
	Lists       ListStore
	Count       int
}

// Builder computes and persists the daily lists. Reruns for the same
// day overwrite; the batch is idempotent.
type Builder struct {
	targets []Target
	views   ViewsReader
	cfg     config.CuratedConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewBuilder creates the daily batch over the given targets.
func NewBuilder(views ViewsReader, cfg config.CuratedConfig, logger zerolog.Logger, targets ...Target) *Builder {
	return &Builder{
		targets: targets,
		views:   views,
		cfg:     cfg,
		logger:  logger.With().Str("component", "curated").Logger(),
		now:     time.Now,
	}
}

// DateKey returns the UTC date key for t.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Run builds today's list for every target. A failing target is logged
// and does not stop the others; the first error is returned after all
// targets ran.
func (b *Builder) Run(ctx context.Context) error {
	var firstErr error
	for _, target := range b.targets {
		if err := b.runTarget(ctx, target); err != nil {
			b.logger.Error().Err(err).Str("content_type", target.ContentType.String()).
				Msg("Curated build failed")
			metrics.CuratedRunsTotal.WithLabelValues(target.ContentType.String(), "error").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.CuratedRunsTotal.WithLabelValues(target.ContentType.String(), "success").Inc()
	}
	return firstErr
}

// HasToday reports whether every target already has a list for today.
func (b *Builder) HasToday(ctx context.Context) bool {
	date := DateKey(b.now())
	for _, target := range b.targets {
		if _, err := target.Lists.Get(ctx, date); err != nil {
			return false
		}
	}
	return true
}

func (b *Builder) runTarget(ctx context.Context, target Target) error {
	now := b.now().UTC()
	windowStart := now.AddDate(0, 0, -b.cfg.WindowDays)

	eligible := func(item *models.ContentItem) bool {
		return !item.IsDeleted && !item.IsReply()
	}

	// Primary window: the last few days.
	items, err := target.Content.List(ctx, func(item *models.ContentItem) bool {
		return eligible(item) && !item.CreatedAt.Before(windowStart)
	}, b.cfg.FetchLimit)
	if err != nil {
		return fmt.Errorf("list recent %s: %w", target.ContentType, err)
	}

	// A quiet window overflows into the back catalog so the list never
	// comes up short while content exists at all.
	if len(items) < target.Count {
		older, err := target.Content.List(ctx, func(item *models.ContentItem) bool {
			return eligible(item) && item.CreatedAt.Before(windowStart)
		}, b.cfg.FetchLimit)
		if err != nil {
			b.logger.Warn().Err(err).Str("content_type", target.ContentType.String()).
				Msg("Back catalog overflow read failed")
		} else {
			items = append(items, older...)
		}
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, 0, len(items))
	for _, item := range items {
		views, err := b.views.ItemViews(ctx, item.ID)
		if err != nil {
			views = 0
		}
		ranked = append(ranked, scored{
			id:    item.ID,
			score: scoring.EngagementScore(item.LikeCount, item.RepostCount, views, item.CreatedAt, now),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	count := target.Count
	if count > len(ranked) {
		count = len(ranked)
	}
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		ids[i] = ranked[i].id
	}

	list := &models.DailyCuratedList{
		Date:           DateKey(now),
		OrderedItemIDs: ids,
		Count:          len(ids),
		UpdatedAt:      now,
	}
	if err := target.Lists.Put(ctx, list); err != nil {
		return fmt.Errorf("persist curated %s: %w", target.ContentType, err)
	}

	metrics.CuratedListSize.WithLabelValues(target.ContentType.String()).Set(float64(len(ids)))
	b.logger.Info().
		Str("content_type", target.ContentType.String()).
		Str("date", list.Date).
		Int("items", len(ids)).
		Msg("Curated list built")
	return nil
}
