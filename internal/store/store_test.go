// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/zapsocial/zapfeed/internal/models"
)

// storeImplementations runs a subtest against each Store implementation.
func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()

	badgerStore, err := OpenBadger(BadgerOptions{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() { _ = badgerStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": badgerStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			item := &models.ContentItem{
				ID:        "item-1",
				AuthorID:  "author-1",
				Tags:      []string{"go", "testing"},
				CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
				LikeCount: 7,
			}
			if err := s.Set(ctx, CollectionPosts, item.ID, item); err != nil {
				t.Fatalf("set: %v", err)
			}

			var got models.ContentItem
			if err := s.Get(ctx, CollectionPosts, item.ID, &got); err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.AuthorID != item.AuthorID || got.LikeCount != item.LikeCount {
				t.Errorf("got %+v, want %+v", got, item)
			}
			if !got.CreatedAt.Equal(item.CreatedAt) {
				t.Errorf("created_at = %v, want %v", got.CreatedAt, item.CreatedAt)
			}

			if err := s.Delete(ctx, CollectionPosts, item.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := s.Get(ctx, CollectionPosts, item.ID, &got); !errors.Is(err, ErrNotFound) {
				t.Errorf("get after delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			var dest models.ContentItem
			err := s.Get(context.Background(), CollectionPosts, "nope", &dest)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreScanPrefixAndStop(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"u1/a", "u1/b", "u1/c", "u2/a"} {
				if err := s.Set(ctx, CollectionInteractions, key, &models.Interaction{Viewed: true}); err != nil {
					t.Fatalf("set %s: %v", key, err)
				}
			}

			var keys []string
			err := s.Scan(ctx, CollectionInteractions, "u1/", func(key string, _ []byte) error {
				keys = append(keys, key)
				return nil
			})
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(keys) != 3 {
				t.Fatalf("scanned %d keys %v, want 3", len(keys), keys)
			}
			for _, k := range keys {
				if k[:3] != "u1/" {
					t.Errorf("key %q escaped the prefix", k)
				}
			}

			// Early stop is not an error.
			count := 0
			err = s.Scan(ctx, CollectionInteractions, "", func(string, []byte) error {
				count++
				return ErrStopScan
			})
			if err != nil {
				t.Fatalf("scan with stop: %v", err)
			}
			if count != 1 {
				t.Errorf("visited %d documents after stop, want 1", count)
			}
		})
	}
}

func TestContentRepoListFiltersAndLimits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := NewContentRepo(s, CollectionPosts)

	now := time.Now().UTC()
	seed := []*models.ContentItem{
		{ID: "p1", AuthorID: "a1", CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "p2", AuthorID: "a2", CreatedAt: now.Add(-2 * time.Hour), IsDeleted: true},
		{ID: "p3", AuthorID: "a1", CreatedAt: now.Add(-3 * time.Hour), ParentID: "p1"},
		{ID: "p4", AuthorID: "a3", CreatedAt: now.Add(-30 * 24 * time.Hour)},
	}
	for _, item := range seed {
		if err := s.Set(ctx, CollectionPosts, item.ID, item); err != nil {
			t.Fatalf("seed %s: %v", item.ID, err)
		}
	}

	eligible := func(it *models.ContentItem) bool {
		return !it.IsDeleted && !it.IsReply()
	}
	items, err := repo.List(ctx, eligible, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (deleted and reply excluded)", len(items))
	}

	limited, err := repo.List(ctx, eligible, 1)
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("got %d items with limit 1", len(limited))
	}
}

func TestInteractionRepoCountAndViewed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := NewInteractionRepo(s)

	puts := map[string]*models.Interaction{
		"i1": {Viewed: true, Liked: true},
		"i2": {Viewed: true},
		"i3": {Liked: true},
	}
	for itemID, in := range puts {
		if err := repo.Put(ctx, "user-1", itemID, in); err != nil {
			t.Fatalf("put %s: %v", itemID, err)
		}
	}
	if err := repo.Put(ctx, "user-2", "i9", &models.Interaction{Viewed: true}); err != nil {
		t.Fatalf("put other user: %v", err)
	}

	count, err := repo.CountForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	viewed, err := repo.ViewedItemIDs(ctx, "user-1")
	if err != nil {
		t.Fatalf("viewed: %v", err)
	}
	if len(viewed) != 2 {
		t.Errorf("viewed = %v, want i1 and i2", viewed)
	}
	if _, ok := viewed["i3"]; ok {
		t.Error("i3 was never viewed but appears in the viewed set")
	}
	if _, ok := viewed["i9"]; ok {
		t.Error("another user's view leaked into the set")
	}
}

func TestInteractionRepoViewedSampleCapped(t *testing.T) {
	ctx := context.Background()
	repo := NewInteractionRepo(NewMemoryStore())

	for i := 0; i < viewedSampleLimit+200; i++ {
		itemID := fmt.Sprintf("item-%05d", i)
		if err := repo.Put(ctx, "heavy-user", itemID, &models.Interaction{Viewed: true}); err != nil {
			t.Fatalf("put %s: %v", itemID, err)
		}
	}

	viewed, err := repo.ViewedItemIDs(ctx, "heavy-user")
	if err != nil {
		t.Fatalf("viewed: %v", err)
	}
	if len(viewed) != viewedSampleLimit {
		t.Errorf("viewed sample = %d entries, want the %d cap", len(viewed), viewedSampleLimit)
	}
}

func TestGraphRepoMissingDocsAreEmpty(t *testing.T) {
	ctx := context.Background()
	repo := NewGraphRepo(NewMemoryStore())

	following, err := repo.Following(ctx, "nobody")
	if err != nil {
		t.Fatalf("following: %v", err)
	}
	if len(following) != 0 {
		t.Errorf("following = %v, want empty", following)
	}

	blocks, err := repo.Blocks(ctx, "nobody")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks.ItemIDs) != 0 || len(blocks.AuthorIDs) != 0 {
		t.Errorf("blocks = %+v, want empty", blocks)
	}
}

func TestAnalyticsRepoMissingIsZero(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := NewAnalyticsRepo(s)

	views, err := repo.ItemViews(ctx, "missing")
	if err != nil {
		t.Fatalf("item views: %v", err)
	}
	if views != 0 {
		t.Errorf("views = %d, want 0", views)
	}

	if err := s.Set(ctx, CollectionItemAnalytics, "i1", &models.ItemAnalytics{Views: 42}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	views, err = repo.ItemViews(ctx, "i1")
	if err != nil {
		t.Fatalf("item views: %v", err)
	}
	if views != 42 {
		t.Errorf("views = %d, want 42", views)
	}
}

// failingStore fails every operation, for breaker tests.
type failingStore struct{}

var errBackendDown = errors.New("backend down")

func (failingStore) Get(context.Context, string, string, any) error    { return errBackendDown }
func (failingStore) Set(context.Context, string, string, any) error   { return errBackendDown }
func (failingStore) Delete(context.Context, string, string) error     { return errBackendDown }
func (failingStore) Scan(context.Context, string, string, ScanFunc) error {
	return errBackendDown
}
func (failingStore) Close() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	settings := DefaultBreakerSettings(3, time.Minute)
	bs := NewBreakerStore(failingStore{}, settings, zerolog.Nop())

	ctx := context.Background()
	var dest models.ContentItem
	for i := 0; i < 3; i++ {
		if err := bs.Get(ctx, CollectionPosts, "x", &dest); !errors.Is(err, errBackendDown) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}

	err := bs.Get(ctx, CollectionPosts, "x", &dest)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err after threshold = %v, want ErrOpenState", err)
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	settings := DefaultBreakerSettings(2, time.Minute)
	bs := NewBreakerStore(NewMemoryStore(), settings, zerolog.Nop())

	ctx := context.Background()
	var dest models.ContentItem
	for i := 0; i < 10; i++ {
		if err := bs.Get(ctx, CollectionPosts, "absent", &dest); !errors.Is(err, ErrNotFound) {
			t.Fatalf("call %d: err = %v, want ErrNotFound (breaker must stay closed)", i, err)
		}
	}
}
