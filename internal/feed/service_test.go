// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zapsocial/zapfeed/internal/models"
)

func prepareCache(t *testing.T, p *pipeline, userID string, ids []string, age time.Duration, isFallback bool) {
	t.Helper()
	err := p.cacheRepo.Put(context.Background(), userID, &models.FeedCacheEntry{
		OrderedItemIDs: ids,
		IsFallback:     isFallback,
		UpdatedAt:      feedTestTime.Add(-age),
	})
	if err != nil {
		t.Fatalf("prepare cache: %v", err)
	}
}

func TestGetPageUnknownContentType(t *testing.T) {
	p := newPipeline(t, nil)
	_, err := p.service.GetPage(context.Background(), PageRequest{
		UserID:      "u1",
		ContentType: models.ContentType("bogus"),
	})
	if !errors.Is(err, ErrUnknownContentType) {
		t.Fatalf("err = %v, want ErrUnknownContentType", err)
	}
}

func TestGetPageCacheHit(t *testing.T) {
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", seq(100), time.Hour, false)

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID:      "u1",
		ContentType: models.ContentPost,
		PerPage:     20,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}

	if resp.Source != models.SourceCache {
		t.Errorf("source = %q, want cache", resp.Source)
	}
	if len(resp.ItemIDs) != 20 {
		t.Errorf("page size = %d, want 20", len(resp.ItemIDs))
	}
	if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor != "item-0019" {
		t.Errorf("hasMore=%v cursor=%v, want more after item-0019", resp.HasMore, resp.NextCursor)
	}

	// Every hit schedules a bookmark and a non-urgent refresh.
	if len(p.tasks.bookmarks) != 1 || p.tasks.bookmarks[0].position != 20 {
		t.Errorf("bookmarks = %+v, want one at position 20", p.tasks.bookmarks)
	}
	if len(p.tasks.refreshes) != 1 || p.tasks.refreshes[0].urgent {
		t.Errorf("refreshes = %+v, want one non-urgent", p.tasks.refreshes)
	}
	if len(p.tasks.topUps) != 0 {
		t.Errorf("top-up scheduled with 80 items left: %+v", p.tasks.topUps)
	}
}

func TestGetPageFallbackFlagChangesSource(t *testing.T) {
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", seq(40), time.Hour, true)

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID: "u1", ContentType: models.ContentPost, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if resp.Source != models.SourceCacheFallback {
		t.Errorf("source = %q, want cache_fallback", resp.Source)
	}
}

func TestGetPageDeepReaderRefreshesUrgently(t *testing.T) {
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", seq(100), time.Hour, false)

	// Cursor at item-0079: the returned page ends at position 100 >= 80.
	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID:      "u1",
		ContentType: models.ContentPost,
		PerPage:     20,
		Cursor:      "item-0079",
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}

	if len(p.tasks.refreshes) != 1 || !p.tasks.refreshes[0].urgent {
		t.Errorf("refreshes = %+v, want one urgent", p.tasks.refreshes)
	}
	// The tail page nears exhaustion, so a top-up runs too, and the
	// response masks the end of the list.
	if len(p.tasks.topUps) != 1 {
		t.Errorf("topUps = %+v, want one", p.tasks.topUps)
	}
	if !resp.HasMore {
		t.Error("hasMore = false while a top-up is in flight")
	}
}

func TestGetPageEndOfFeedAdmittedOnlyNearFullConsumption(t *testing.T) {
	// A short list (below the generation cap) fully consumed is the one
	// case where the feed admits exhaustion.
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", seq(30), time.Hour, false)

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID:      "u1",
		ContentType: models.ContentPost,
		PerPage:     20,
		Cursor:      "item-0019",
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(resp.ItemIDs) != 10 {
		t.Fatalf("page = %v, want the last 10", resp.ItemIDs)
	}
	if resp.HasMore {
		t.Error("hasMore = true after consuming a corpus-exhausted list")
	}
}

func TestGetPageAtCapListNeverAdmitsEnd(t *testing.T) {
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", seq(50), time.Hour, false) // 50 == MaxFinal

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID:      "u1",
		ContentType: models.ContentPost,
		PerPage:     20,
		Cursor:      "item-0039",
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if !resp.HasMore {
		t.Error("a cap-sized list claimed exhaustion; more content likely exists")
	}
}

func TestGetPageCacheMissServesCurated(t *testing.T) {
	p := newPipeline(t, nil)
	p.seedCurated(t, "2026-08-20", seq(30))

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID: "u1", ContentType: models.ContentPost, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}

	if resp.Source != models.SourceCurated {
		t.Errorf("source = %q, want curated", resp.Source)
	}
	if len(resp.ItemIDs) != 10 || resp.ItemIDs[0] != "item-0000" {
		t.Errorf("page = %v, want the curated head", resp.ItemIDs)
	}
	if !resp.HasMore {
		t.Error("curated fallback must keep hasMore=true; personalization is coming")
	}
	if len(p.tasks.replacements) != 1 {
		t.Errorf("replacements = %v, want one personalization upgrade", p.tasks.replacements)
	}
}

func TestGetPageExpiredCacheServesCurated(t *testing.T) {
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", seq(100), 7*time.Hour, false)
	p.seedCurated(t, "2026-08-20", seq(30))

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID: "u1", ContentType: models.ContentPost, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if resp.Source != models.SourceCurated {
		t.Errorf("source = %q, want curated for an expired cache", resp.Source)
	}
}

func TestGetPageBothMissGeneratesSynchronously(t *testing.T) {
	p := newPipeline(t, nil)
	p.seedItems(t, 60)

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID: "u1", ContentType: models.ContentPost, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}

	if resp.Source != models.SourceFallback {
		t.Errorf("source = %q, want fallback for a fresh user", resp.Source)
	}
	if len(resp.ItemIDs) != 10 {
		t.Errorf("page size = %d, want 10", len(resp.ItemIDs))
	}
	assertNoDuplicates(t, resp.ItemIDs)

	// The generated order landed in the cache for the next request.
	entry, fresh, err := p.cache.Read(context.Background(), "u1")
	if err != nil || !fresh {
		t.Fatalf("cache after sync generation: fresh=%v err=%v", fresh, err)
	}
	if !entry.IsFallback {
		t.Error("cached entry not marked fallback for a zero-interaction user")
	}
}

func TestGetPageEmptyGenerationKeepsStaleCache(t *testing.T) {
	// Expired entry, empty corpus, no curated list: the request degrades
	// to synchronous generation, which produces nothing. The stale order
	// must survive for background merges rather than be wiped.
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", []string{"a", "b", "c"}, 8*time.Hour, false)

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID: "u1", ContentType: models.ContentPost, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(resp.ItemIDs) != 0 {
		t.Errorf("served %v from an empty corpus", resp.ItemIDs)
	}

	entry, err := p.cacheRepo.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("cache after empty generation: %v", err)
	}
	if len(entry.OrderedItemIDs) != 3 {
		t.Errorf("stale order = %v, want the original 3 ids kept", entry.OrderedItemIDs)
	}
}

func TestGetPagePersonalizedSourceForActiveUser(t *testing.T) {
	p := newPipeline(t, nil)
	p.seedItems(t, 60)
	p.seedInteractions(t, "u1", 10)

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID: "u1", ContentType: models.ContentPost, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if resp.Source != models.SourcePersonalized {
		t.Errorf("source = %q, want personalized", resp.Source)
	}
}

func TestGetPageSyncShortfallPadsInline(t *testing.T) {
	// Tiny corpus: generation cannot fill a page, sprinkle pads what it
	// can and the response keeps hasMore=true.
	p := newPipeline(t, nil)
	p.seedItems(t, 3)

	resp, err := p.service.GetPage(context.Background(), PageRequest{
		UserID: "u1", ContentType: models.ContentPost, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(resp.ItemIDs) == 0 {
		t.Fatal("nothing served from a 3-item corpus")
	}
	assertNoDuplicates(t, resp.ItemIDs)
}

func TestRefreshFeedNowAppendsToCache(t *testing.T) {
	p := newPipeline(t, nil)
	p.seedItems(t, 60)
	prepareCache(t, p, "u1", []string{"old-1", "old-2"}, time.Hour, false)

	if err := p.service.RefreshFeedNow(context.Background(), "u1", models.ContentPost, false); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	entry, _, err := p.cache.Read(context.Background(), "u1")
	if err != nil {
		t.Fatalf("read after refresh: %v", err)
	}
	if len(entry.OrderedItemIDs) <= 2 {
		t.Fatalf("refresh did not grow the cache: %v", entry.OrderedItemIDs)
	}
	// Append keeps the already-served head intact.
	if entry.OrderedItemIDs[0] != "old-1" || entry.OrderedItemIDs[1] != "old-2" {
		t.Errorf("existing order disturbed: %v", entry.OrderedItemIDs[:2])
	}
	assertNoDuplicates(t, entry.OrderedItemIDs)
}

func TestReplacePersonalizedNowUpgradesFallback(t *testing.T) {
	p := newPipeline(t, nil)
	p.seedItems(t, 60)
	p.seedInteractions(t, "u1", 10)
	prepareCache(t, p, "u1", []string{"curated-1"}, time.Hour, true)

	if err := p.service.ReplacePersonalizedNow(context.Background(), "u1", models.ContentPost); err != nil {
		t.Fatalf("replace: %v", err)
	}

	entry, _, err := p.cache.Read(context.Background(), "u1")
	if err != nil {
		t.Fatalf("read after replace: %v", err)
	}
	if entry.IsFallback {
		t.Error("entry still marked fallback after personalization")
	}
	for _, id := range entry.OrderedItemIDs {
		if id == "curated-1" {
			t.Error("replace kept the old curated order")
		}
	}
}

func TestTopUpFeedNowOnlyAppends(t *testing.T) {
	p := newPipeline(t, nil)
	p.seedItems(t, 60)
	cached := seq(5)
	prepareCache(t, p, "u1", cached, time.Hour, false)

	if err := p.service.TopUpFeedNow(context.Background(), "u1", models.ContentPost, 10); err != nil {
		t.Fatalf("top-up: %v", err)
	}

	entry, _, err := p.cache.Read(context.Background(), "u1")
	if err != nil {
		t.Fatalf("read after top-up: %v", err)
	}
	if len(entry.OrderedItemIDs) <= len(cached) {
		t.Fatalf("top-up added nothing: %v", entry.OrderedItemIDs)
	}
	for i, id := range cached {
		if entry.OrderedItemIDs[i] != id {
			t.Fatalf("top-up reordered the cached head: %v", entry.OrderedItemIDs)
		}
	}
	assertNoDuplicates(t, entry.OrderedItemIDs)
}

func TestBookmarkNow(t *testing.T) {
	p := newPipeline(t, nil)
	prepareCache(t, p, "u1", seq(30), time.Hour, false)

	p.service.BookmarkNow(context.Background(), "u1", models.ContentPost, 12, "item-0011")

	entry, _, err := p.cache.Read(context.Background(), "u1")
	if err != nil {
		t.Fatalf("read after bookmark: %v", err)
	}
	if entry.LastPosition != 12 || entry.LastViewedItemID != "item-0011" {
		t.Errorf("bookmark = pos %d viewed %q", entry.LastPosition, entry.LastViewedItemID)
	}
}
