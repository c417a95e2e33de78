// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"errors"
	"time"

	"github.com/zapsocial/zapfeed/internal/models"
	"github.com/zapsocial/zapfeed/internal/store"
)

// The feed pipeline reads through narrow interfaces so tests can stub
// storage without a database. The store repositories satisfy them.

// ContentReader reads content items from one namespace.
type ContentReader interface {
	Get(ctx context.Context, id string) (*models.ContentItem, error)
	List(ctx context.Context, filter func(*models.ContentItem) bool, limit int) ([]*models.ContentItem, error)
}

// AnalyticsReader reads view counts and user affinity records.
type AnalyticsReader interface {
	ItemViews(ctx context.Context, itemID string) (int64, error)
	UserAnalytics(ctx context.Context, userID string) (*models.UserAnalytics, error)
}

// InteractionReader reads per-user interaction state.
type InteractionReader interface {
	CountForUser(ctx context.Context, userID string) (int, error)
	ViewedItemIDs(ctx context.Context, userID string) (map[string]struct{}, error)
}

// GraphReader reads the social graph.
type GraphReader interface {
	Following(ctx context.Context, userID string) ([]string, error)
	Blocks(ctx context.Context, userID string) (*models.BlockList, error)
}

// CuratedReader reads daily curated lists.
type CuratedReader interface {
	Get(ctx context.Context, date string) (*models.DailyCuratedList, error)
}

// StoryReader reads active stories.
type StoryReader interface {
	ListActive(ctx context.Context, cutoff time.Time) ([]*models.Story, error)
}

// StoryCache reads and writes the global story feed cache.
type StoryCache interface {
	Get(ctx context.Context) (*models.StoryCacheEntry, error)
	Put(ctx context.Context, entry *models.StoryCacheEntry) error
}

// BackgroundTasks is the fire-and-forget surface the serving path uses.
// Implementations must return immediately; execution happens elsewhere.
type BackgroundTasks interface {
	RefreshFeed(userID string, contentType models.ContentType, urgent bool)
	TopUpFeed(userID string, contentType models.ContentType, shortfall int)
	Bookmark(userID string, contentType models.ContentType, position int, lastViewedItemID string)
	ReplacePersonalized(userID string, contentType models.ContentType)
	RefreshStories()
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
