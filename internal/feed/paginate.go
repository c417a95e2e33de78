// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package feed implements the recommendation pipeline: candidate
// sourcing, tiered generation, per-user feed caching, and cursor
// pagination over the cached order.
package feed

import "github.com/zapsocial/zapfeed/internal/models"

// Page is one pagination result over an ordered ID list.
type Page struct {
	// ItemIDs is the page slice, at most perPage long.
	ItemIDs []string

	// HasMore reports whether items remain after this page.
	HasMore bool

	// NextCursor is the last ID of the page when more items remain,
	// nil otherwise.
	NextCursor *string

	// Position is the absolute index one past the last returned item,
	// the reader's new bookmark.
	Position int
}

// Paginate slices a page out of the ordered list. The cursor is the last
// item ID the client saw; the page starts after it. An empty or unknown
// cursor starts from the top, so a stale cursor after a cache replace
// degrades to a restart instead of an error.
func Paginate(ids []string, cursor string, perPage int) Page {
	if perPage < 1 || len(ids) == 0 {
		return Page{ItemIDs: []string{}}
	}

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}

	if start >= len(ids) {
		return Page{ItemIDs: []string{}, Position: len(ids)}
	}

	end := start + perPage
	if end > len(ids) {
		end = len(ids)
	}

	page := Page{
		ItemIDs:  ids[start:end],
		HasMore:  end < len(ids),
		Position: end,
	}
	if page.HasMore && len(page.ItemIDs) > 0 {
		last := page.ItemIDs[len(page.ItemIDs)-1]
		page.NextCursor = &last
	}
	return page
}

// clampPerPage applies the default and ceiling for a requested page size.
func clampPerPage(requested, def, max int) int {
	if requested < 1 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}

// dedupAppend appends src IDs to dst, skipping IDs already present in
// seen, and records the appended ones. Used by every merge path so the
// no-duplicates invariant holds everywhere.
func dedupAppend(dst []string, seen map[string]struct{}, src ...string) []string {
	for _, id := range src {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}

// candidateIDs projects candidates to their item IDs.
func candidateIDs(cands []*models.ScoredCandidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ItemID
	}
	return ids
}
