// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package store provides the embedded document store the feed pipeline
// persists to: content items, analytics, the social graph, feed caches,
// and curated lists. Documents are JSON values grouped into collections.
//
// The store exposes point reads, writes, and prefix scans. There are no
// secondary indexes; repositories that need filtered or ordered views
// scan their collection and filter in memory.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: document not found")

// Collection names.
const (
	CollectionPosts          = "posts"
	CollectionShorts         = "shorts"
	CollectionStories        = "stories"
	CollectionItemAnalytics  = "item_analytics"
	CollectionUserAnalytics  = "user_analytics"
	CollectionInteractions   = "interactions"
	CollectionFollowing      = "following"
	CollectionBlocks         = "blocks"
	CollectionFeedCachePosts = "feed_cache_posts"
	CollectionFeedCacheShort = "feed_cache_shorts"
	CollectionCuratedPosts   = "curated_posts"
	CollectionCuratedShorts  = "curated_shorts"
	CollectionStoryCache     = "story_cache"
)

// ScanFunc receives one document per call during a scan. Returning a
// non-nil error stops the scan; ErrStopScan stops it without failing.
type ScanFunc func(key string, value []byte) error

// ErrStopScan terminates a scan early without reporting failure.
var ErrStopScan = errors.New("store: stop scan")

// Store is the document store contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get unmarshals the document at collection/key into dest.
	// Returns ErrNotFound when absent.
	Get(ctx context.Context, collection, key string, dest any) error

	// Set marshals value and writes it at collection/key.
	Set(ctx context.Context, collection, key string, value any) error

	// Delete removes the document at collection/key. Deleting an absent
	// document is not an error.
	Delete(ctx context.Context, collection, key string) error

	// Scan visits every document in the collection whose key starts with
	// prefix, in key order. An empty prefix visits the whole collection.
	Scan(ctx context.Context, collection, prefix string, fn ScanFunc) error

	// Close releases the underlying resources.
	Close() error
}
