// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/zapsocial/zapfeed/internal/models"
)

// interactionKey namespaces interaction documents per user so a single
// user's interactions are one prefix scan.
func interactionKey(userID, itemID string) string {
	return userID + "/" + itemID
}

// ContentRepo reads content items from one collection (posts or shorts).
type ContentRepo struct {
	store      Store
	collection string
}

// NewContentRepo creates a repo over the given content collection.
func NewContentRepo(s Store, collection string) *ContentRepo {
	return &ContentRepo{store: s, collection: collection}
}

// Collection returns the backing collection name.
func (r *ContentRepo) Collection() string { return r.collection }

// Get returns one item by ID.
func (r *ContentRepo) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	var item models.ContentItem
	if err := r.store.Get(ctx, r.collection, id, &item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = id
	}
	return &item, nil
}

// List scans the collection and returns items matching filter. A zero
// limit returns all matches. Ordering is by document key; callers that
// need ranked views sort the result themselves.
func (r *ContentRepo) List(ctx context.Context, filter func(*models.ContentItem) bool, limit int) ([]*models.ContentItem, error) {
	var items []*models.ContentItem
	err := r.store.Scan(ctx, r.collection, "", func(key string, value []byte) error {
		var item models.ContentItem
		if err := json.Unmarshal(value, &item); err != nil {
			return fmt.Errorf("decode item %s: %w", key, err)
		}
		if item.ID == "" {
			item.ID = key
		}
		if filter != nil && !filter(&item) {
			return nil
		}
		items = append(items, &item)
		if limit > 0 && len(items) >= limit {
			return ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// AnalyticsRepo reads per-item and per-user analytics.
type AnalyticsRepo struct {
	store Store
}

// NewAnalyticsRepo creates the analytics repo.
func NewAnalyticsRepo(s Store) *AnalyticsRepo {
	return &AnalyticsRepo{store: s}
}

// ItemViews returns the view count for an item, zero when no analytics
// record exists.
func (r *AnalyticsRepo) ItemViews(ctx context.Context, itemID string) (int64, error) {
	var rec models.ItemAnalytics
	if err := r.store.Get(ctx, CollectionItemAnalytics, itemID, &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return rec.Views, nil
}

// UserAnalytics returns the user's affinity record, empty when absent.
func (r *AnalyticsRepo) UserAnalytics(ctx context.Context, userID string) (*models.UserAnalytics, error) {
	var rec models.UserAnalytics
	if err := r.store.Get(ctx, CollectionUserAnalytics, userID, &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &models.UserAnalytics{}, nil
		}
		return nil, err
	}
	return &rec, nil
}

// InteractionRepo reads per-user interaction records.
type InteractionRepo struct {
	store Store
}

// NewInteractionRepo creates the interaction repo.
func NewInteractionRepo(s Store) *InteractionRepo {
	return &InteractionRepo{store: s}
}

// Put writes one interaction record.
func (r *InteractionRepo) Put(ctx context.Context, userID, itemID string, in *models.Interaction) error {
	return r.store.Set(ctx, CollectionInteractions, interactionKey(userID, itemID), in)
}

// CountForUser returns how many interaction records the user has. This
// gates personalization, so only the count matters.
func (r *InteractionRepo) CountForUser(ctx context.Context, userID string) (int, error) {
	count := 0
	err := r.store.Scan(ctx, CollectionInteractions, userID+"/", func(string, []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// viewedSampleLimit caps the viewed-set scan. Heavy users would
// otherwise drag every interaction they ever made into each profile
// build; a sample this large already excludes far more items than one
// generation can surface.
const viewedSampleLimit = 1000

// ViewedItemIDs returns a sample of item IDs the user has viewed,
// capped at viewedSampleLimit.
func (r *InteractionRepo) ViewedItemIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	viewed := make(map[string]struct{})
	prefix := userID + "/"
	err := r.store.Scan(ctx, CollectionInteractions, prefix, func(key string, value []byte) error {
		var in models.Interaction
		if err := json.Unmarshal(value, &in); err != nil {
			return fmt.Errorf("decode interaction %s: %w", key, err)
		}
		if in.Viewed {
			viewed[key[len(prefix):]] = struct{}{}
			if len(viewed) >= viewedSampleLimit {
				return ErrStopScan
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewed, nil
}

// GraphRepo reads the social graph: who a user follows and what they
// have blocked.
type GraphRepo struct {
	store Store
}

// NewGraphRepo creates the graph repo.
func NewGraphRepo(s Store) *GraphRepo {
	return &GraphRepo{store: s}
}

// Following returns the author IDs the user follows, empty when the user
// follows nobody.
func (r *GraphRepo) Following(ctx context.Context, userID string) ([]string, error) {
	var list models.FollowingList
	if err := r.store.Get(ctx, CollectionFollowing, userID, &list); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return list.AuthorIDs, nil
}

// Blocks returns the user's block list, empty when absent.
func (r *GraphRepo) Blocks(ctx context.Context, userID string) (*models.BlockList, error) {
	var list models.BlockList
	if err := r.store.Get(ctx, CollectionBlocks, userID, &list); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &models.BlockList{}, nil
		}
		return nil, err
	}
	return &list, nil
}

// FeedCacheRepo reads and writes per-user feed cache entries for one
// content namespace.
type FeedCacheRepo struct {
	store      Store
	collection string
}

// NewFeedCacheRepo creates a repo over one feed cache collection.
func NewFeedCacheRepo(s Store, collection string) *FeedCacheRepo {
	return &FeedCacheRepo{store: s, collection: collection}
}

// Get returns the user's cache entry or ErrNotFound.
func (r *FeedCacheRepo) Get(ctx context.Context, userID string) (*models.FeedCacheEntry, error) {
	var entry models.FeedCacheEntry
	if err := r.store.Get(ctx, r.collection, userID, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put writes the user's cache entry.
func (r *FeedCacheRepo) Put(ctx context.Context, userID string, entry *models.FeedCacheEntry) error {
	return r.store.Set(ctx, r.collection, userID, entry)
}

// CuratedRepo reads and writes daily curated lists for one content
// namespace, keyed by UTC date.
type CuratedRepo struct {
	store      Store
	collection string
}

// NewCuratedRepo creates a repo over one curated collection.
func NewCuratedRepo(s Store, collection string) *CuratedRepo {
	return &CuratedRepo{store: s, collection: collection}
}

// Get returns the curated list for the given YYYY-MM-DD date.
func (r *CuratedRepo) Get(ctx context.Context, date string) (*models.DailyCuratedList, error) {
	var list models.DailyCuratedList
	if err := r.store.Get(ctx, r.collection, date, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Put writes the curated list under its date key.
func (r *CuratedRepo) Put(ctx context.Context, list *models.DailyCuratedList) error {
	if list.Date == "" {
		return fmt.Errorf("curated list has no date key")
	}
	return r.store.Set(ctx, r.collection, list.Date, list)
}

// StoryRepo reads story documents.
type StoryRepo struct {
	store Store
}

// NewStoryRepo creates the story repo.
func NewStoryRepo(s Store) *StoryRepo {
	return &StoryRepo{store: s}
}

// ListActive returns public stories created at or after cutoff.
func (r *StoryRepo) ListActive(ctx context.Context, cutoff time.Time) ([]*models.Story, error) {
	var stories []*models.Story
	err := r.store.Scan(ctx, CollectionStories, "", func(key string, value []byte) error {
		var story models.Story
		if err := json.Unmarshal(value, &story); err != nil {
			return fmt.Errorf("decode story %s: %w", key, err)
		}
		if story.ID == "" {
			story.ID = key
		}
		if story.Visibility != "public" || story.CreatedAt.Before(cutoff) {
			return nil
		}
		stories = append(stories, &story)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stories, nil
}

// storyCacheKey is the single global story cache document.
const storyCacheKey = "global"

// StoryCacheRepo reads and writes the global story feed cache.
type StoryCacheRepo struct {
	store Store
}

// NewStoryCacheRepo creates the story cache repo.
func NewStoryCacheRepo(s Store) *StoryCacheRepo {
	return &StoryCacheRepo{store: s}
}

// Get returns the cached story feed or ErrNotFound.
func (r *StoryCacheRepo) Get(ctx context.Context) (*models.StoryCacheEntry, error) {
	var entry models.StoryCacheEntry
	if err := r.store.Get(ctx, CollectionStoryCache, storyCacheKey, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put writes the cached story feed.
func (r *StoryCacheRepo) Put(ctx context.Context, entry *models.StoryCacheEntry) error {
	return r.store.Set(ctx, CollectionStoryCache, storyCacheKey, entry)
}
