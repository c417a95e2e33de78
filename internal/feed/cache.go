// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/metrics"
	"github.com/zapsocial/zapfeed/internal/models"
)

// ErrCacheMiss is returned when no cache entry exists for the user.
var ErrCacheMiss = errors.New("feed: cache miss")

// cacheRepo is the persistence surface the cache needs.
type cacheRepo interface {
	Get(ctx context.Context, userID string) (*models.FeedCacheEntry, error)
	Put(ctx context.Context, userID string, entry *models.FeedCacheEntry) error
}

// Cache manages per-user feed cache entries for one content namespace.
// Entries expire logically via TTL; an expired entry is still returned
// (marked stale) because background refresh merges into it.
//
// There are no transactions around read-modify-write; concurrent writers
// for the same user are rare and last-writer-wins is accepted.
type Cache struct {
	repo        cacheRepo
	contentType models.ContentType
	ttl         time.Duration
	maxSize     int
	logger      zerolog.Logger
	now         func() time.Time
}

// NewCache creates a cache over the given repo.
func NewCache(repo cacheRepo, contentType models.ContentType, ttl time.Duration, maxSize int, logger zerolog.Logger) *Cache {
	return &Cache{
		repo:        repo,
		contentType: contentType,
		ttl:         ttl,
		maxSize:     maxSize,
		logger:      logger.With().Str("component", "feed-cache").Str("content_type", contentType.String()).Logger(),
		now:         time.Now,
	}
}

// Read returns the user's cache entry and whether it is still fresh.
// Absent entries return ErrCacheMiss; expired entries come back with
// fresh=false so callers can serve fallback while reusing the stale
// order for merges.
func (c *Cache) Read(ctx context.Context, userID string) (entry *models.FeedCacheEntry, fresh bool, err error) {
	entry, err = c.repo.Get(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			metrics.FeedCacheMisses.WithLabelValues(c.contentType.String()).Inc()
			return nil, false, ErrCacheMiss
		}
		return nil, false, fmt.Errorf("read feed cache: %w", err)
	}

	fresh = c.now().Sub(entry.UpdatedAt) <= c.ttl
	if fresh {
		metrics.FeedCacheHits.WithLabelValues(c.contentType.String()).Inc()
	} else {
		metrics.FeedCacheMisses.WithLabelValues(c.contentType.String()).Inc()
	}
	return entry, fresh, nil
}

// WriteReplace overwrites the user's feed with a newly generated order.
// The pagination bookmark resets because the old order is gone.
func (c *Cache) WriteReplace(ctx context.Context, userID string, ids []string, isFallback bool) error {
	if len(ids) > c.maxSize {
		ids = ids[:c.maxSize]
	}
	entry := &models.FeedCacheEntry{
		OrderedItemIDs: ids,
		IsFallback:     isFallback,
		UpdatedAt:      c.now(),
	}
	if err := c.repo.Put(ctx, userID, entry); err != nil {
		return fmt.Errorf("replace feed cache: %w", err)
	}
	return nil
}

// WriteAppend merges freshly generated IDs onto the existing entry so
// the reader's position and already-served order stay valid. When the
// merge exceeds the cap, the oldest (front) IDs are evicted. An entry
// already at cap cannot absorb an append, so the write degrades to a
// replace with the new order.
func (c *Cache) WriteAppend(ctx context.Context, userID string, ids []string) error {
	existing, err := c.repo.Get(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return c.WriteReplace(ctx, userID, ids, false)
		}
		return fmt.Errorf("append feed cache: %w", err)
	}

	if len(existing.OrderedItemIDs) >= c.maxSize {
		return c.WriteReplace(ctx, userID, ids, false)
	}

	seen := make(map[string]struct{}, len(existing.OrderedItemIDs)+len(ids))
	merged := make([]string, 0, len(existing.OrderedItemIDs)+len(ids))
	merged = dedupAppend(merged, seen, existing.OrderedItemIDs...)
	merged = dedupAppend(merged, seen, ids...)

	evicted := 0
	if len(merged) > c.maxSize {
		evicted = len(merged) - c.maxSize
		merged = merged[evicted:]
	}

	entry := &models.FeedCacheEntry{
		OrderedItemIDs:   merged,
		IsFallback:       false,
		LastPosition:     adjustPosition(existing.LastPosition, evicted),
		LastViewedItemID: existing.LastViewedItemID,
		UpdatedAt:        c.now(),
	}
	if err := c.repo.Put(ctx, userID, entry); err != nil {
		return fmt.Errorf("append feed cache: %w", err)
	}
	return nil
}

// adjustPosition shifts a bookmark left by the evicted count, floored
// at zero.
func adjustPosition(position, evicted int) int {
	position -= evicted
	if position < 0 {
		return 0
	}
	return position
}

// Bookmark records the reader's position. Best-effort: failures are
// logged and never fail the serving request.
func (c *Cache) Bookmark(ctx context.Context, userID string, position int, lastViewedItemID string) {
	entry, err := c.repo.Get(ctx, userID)
	if err != nil {
		if !isNotFound(err) {
			c.logger.Warn().Err(err).Str("user_id", userID).Msg("Bookmark read failed")
		}
		return
	}
	// A background trim may have shortened the order since the client
	// read it; a bookmark never points past the end.
	if position > len(entry.OrderedItemIDs) {
		position = len(entry.OrderedItemIDs)
	}
	entry.LastPosition = position
	if lastViewedItemID != "" {
		entry.LastViewedItemID = lastViewedItemID
	}
	if err := c.repo.Put(ctx, userID, entry); err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("Bookmark write failed")
	}
}

// MaxSize returns the configured cache cap.
func (c *Cache) MaxSize() int { return c.maxSize }

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }
