// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package models defines the shared domain types for the feed pipeline:
// content items, analytics records, per-user profiles, feed cache entries,
// curated lists, and the API response contracts.
package models

import "time"

// ContentType distinguishes the independent feed namespaces.
type ContentType string

const (
	// ContentPost is a regular top-level post.
	ContentPost ContentType = "post"
	// ContentShort is a short-form video.
	ContentShort ContentType = "short"
	// ContentStory is an ephemeral story (24h visibility).
	ContentStory ContentType = "story"
)

// String returns the content type name.
func (t ContentType) String() string { return string(t) }

// ContentItem is a post or short as stored in the content collection.
// The feed core reads these; it never mutates them.
type ContentItem struct {
	// ID is the item document key.
	ID string `json:"id"`

	// AuthorID is the creating user's ID.
	AuthorID string `json:"author_id"`

	// Tags are the item's hashtags.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// LikeCount is the denormalized like counter.
	LikeCount int64 `json:"like_count"`

	// RepostCount is the denormalized repost counter.
	RepostCount int64 `json:"repost_count"`

	// IsDeleted marks soft-deleted items, excluded from all feeds.
	IsDeleted bool `json:"is_deleted"`

	// ParentID is set on replies. Replies never appear in top-level feeds.
	ParentID string `json:"parent_id,omitempty"`
}

// IsReply reports whether the item is a reply to another item.
func (c *ContentItem) IsReply() bool { return c.ParentID != "" }

// ItemAnalytics is the per-item analytics record, kept in a separate
// collection keyed by item ID.
type ItemAnalytics struct {
	Views int64 `json:"views"`
}

// UserAnalytics is the per-user affinity record accumulated by the
// interaction pipeline (external to this service).
type UserAnalytics struct {
	// TagsLiked maps tag -> accumulated like weight.
	TagsLiked map[string]float64 `json:"tags_liked,omitempty"`

	// AuthorsLiked maps author ID -> accumulated like weight.
	AuthorsLiked map[string]float64 `json:"authors_liked,omitempty"`
}

// Interaction is a user's interaction record with a single item.
type Interaction struct {
	Liked    bool `json:"liked"`
	Reposted bool `json:"reposted"`
	Viewed   bool `json:"viewed"`
}

// UserProfile is the ephemeral personalization input, rebuilt from
// independent best-effort reads at the start of every generation request
// and discarded after.
type UserProfile struct {
	UserID            string
	TagAffinity       map[string]float64
	AuthorAffinity    map[string]float64
	FollowedAuthorIDs map[string]struct{}
	ViewedItemIDs     map[string]struct{}
	BlockedItemIDs    map[string]struct{}
	BlockedAuthorIDs  map[string]struct{}
	InteractionCount  int
}

// Follows reports whether the profile follows the given author.
func (p *UserProfile) Follows(authorID string) bool {
	_, ok := p.FollowedAuthorIDs[authorID]
	return ok
}

// Excluded reports whether the item or its author is viewed or blocked.
func (p *UserProfile) Excluded(itemID, authorID string) bool {
	if _, ok := p.ViewedItemIDs[itemID]; ok {
		return true
	}
	if _, ok := p.BlockedItemIDs[itemID]; ok {
		return true
	}
	_, ok := p.BlockedAuthorIDs[authorID]
	return ok
}

// ScoredCandidate is a content item under consideration for a ranked feed.
// Exists only during generation.
type ScoredCandidate struct {
	ItemID      string
	AuthorID    string
	Tags        []string
	CreatedAt   time.Time
	LikeCount   int64
	RepostCount int64
	ViewCount   int64
	Score       float64
}

// FeedCacheEntry is the persisted per-user ordered feed, the unit the
// pagination engine slices. Entries are never deleted; they expire
// logically via UpdatedAt and remain readable as a last-resort source.
type FeedCacheEntry struct {
	// OrderedItemIDs is the ranked item ID list. Invariant: no duplicates,
	// length bounded by the configured cache cap.
	OrderedItemIDs []string `json:"ordered_item_ids"`

	// IsFallback marks entries produced by the non-personalized path.
	IsFallback bool `json:"is_fallback"`

	// LastPosition is the reader's pagination bookmark (absolute index).
	LastPosition int `json:"last_position"`

	// LastViewedItemID is the last item the client reported viewing.
	LastViewedItemID string `json:"last_viewed_item_id,omitempty"`

	// UpdatedAt is the last write time, used for TTL expiry.
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyCuratedList is the precomputed global ranked list for one UTC day.
// Immutable after creation; the previous day's list serves as fallback.
type DailyCuratedList struct {
	// Date is the UTC date key in YYYY-MM-DD form.
	Date string `json:"date"`

	// OrderedItemIDs is the ranked item ID list.
	OrderedItemIDs []string `json:"ordered_item_ids"`

	// Count is len(OrderedItemIDs), denormalized for cheap reads.
	Count int `json:"count"`

	// UpdatedAt is when the batch produced this list.
	UpdatedAt time.Time `json:"updated_at"`
}

// FollowingList is the set of authors a user follows, stored as one
// document per user.
type FollowingList struct {
	AuthorIDs []string `json:"author_ids,omitempty"`
}

// BlockList is the set of items and authors a user has hidden.
type BlockList struct {
	ItemIDs   []string `json:"item_ids,omitempty"`
	AuthorIDs []string `json:"author_ids,omitempty"`
}

// StoryCacheEntry is the cached global story feed, shared by all users.
type StoryCacheEntry struct {
	OrderedStoryIDs []string  `json:"ordered_story_ids"`
	Total           int       `json:"total"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Story is an ephemeral story document.
type Story struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	Visibility string    `json:"visibility"`
	LikeCount  int64     `json:"like_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Feed response sources.
const (
	SourceCache         = "cache"
	SourceCacheFallback = "cache_fallback"
	SourceCurated       = "curated"
	SourceFallback      = "fallback"
	SourcePersonalized  = "personalized"
	SourceGenerated     = "generated"
)

// FeedPageResponse is the wire contract for a paginated feed page.
type FeedPageResponse struct {
	ItemIDs     []string `json:"itemIds"`
	HasMore     bool     `json:"hasMore"`
	NextCursor  *string  `json:"nextCursor"`
	Source      string   `json:"source"`
	GeneratedAt string   `json:"generatedAt"`
}

// StoryFeedResponse is the wire contract for the global story feed.
type StoryFeedResponse struct {
	StoryIDs    []string `json:"storyIds"`
	Total       int      `json:"total"`
	HasMore     bool     `json:"hasMore"`
	Source      string   `json:"source"`
	GeneratedAt string   `json:"generatedAt"`
}

// APIError is the error payload returned to clients. Message carries no
// internal detail; full detail is logged server-side.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope for error responses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}
