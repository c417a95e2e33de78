// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/models"
)

type feedCall struct {
	kind        Kind
	userID      string
	contentType models.ContentType
	urgent      bool
	count       int
	position    int
	lastViewed  string
}

type recordingFeedWorker struct {
	mu    sync.Mutex
	calls []feedCall
	done  chan struct{}

	refreshErr error
}

func newRecordingFeedWorker() *recordingFeedWorker {
	return &recordingFeedWorker{done: make(chan struct{}, 64)}
}

func (w *recordingFeedWorker) record(c feedCall) {
	w.mu.Lock()
	w.calls = append(w.calls, c)
	w.mu.Unlock()
	w.done <- struct{}{}
}

func (w *recordingFeedWorker) snapshot() []feedCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]feedCall, len(w.calls))
	copy(out, w.calls)
	return out
}

func (w *recordingFeedWorker) RefreshFeedNow(_ context.Context, userID string, contentType models.ContentType, urgent bool) error {
	w.record(feedCall{kind: KindRefreshFeed, userID: userID, contentType: contentType, urgent: urgent})
	return w.refreshErr
}

func (w *recordingFeedWorker) TopUpFeedNow(_ context.Context, userID string, contentType models.ContentType, count int) error {
	w.record(feedCall{kind: KindTopUpFeed, userID: userID, contentType: contentType, count: count})
	return nil
}

func (w *recordingFeedWorker) ReplacePersonalizedNow(_ context.Context, userID string, contentType models.ContentType) error {
	w.record(feedCall{kind: KindReplacePersonalized, userID: userID, contentType: contentType})
	return nil
}

func (w *recordingFeedWorker) BookmarkNow(_ context.Context, userID string, contentType models.ContentType, position int, lastViewedItemID string) {
	w.record(feedCall{kind: KindBookmark, userID: userID, contentType: contentType, position: position, lastViewed: lastViewedItemID})
}

type recordingStoryWorker struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (w *recordingStoryWorker) RefreshNow(context.Context) (*models.StoryCacheEntry, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	w.done <- struct{}{}
	return &models.StoryCacheEntry{}, nil
}

type recordingCuratedWorker struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
	err   error
}

func (w *recordingCuratedWorker) Run(context.Context) error {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	w.done <- struct{}{}
	return w.err
}

func testTasksConfig() config.TasksConfig {
	return config.TasksConfig{
		Workers:       2,
		Timeout:       time.Second,
		RatePerSecond: 0,
	}
}

// startRunner boots a runner's consume loop and returns it with a
// cleanup that stops everything.
func startRunner(t *testing.T, feedW FeedWorker, storyW StoryWorker, curatedW CuratedWorker) *Runner {
	t.Helper()

	runner := NewRunner(feedW, storyW, curatedW, testTasksConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- runner.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		if err := runner.Close(); err != nil {
			t.Errorf("close runner: %v", err)
		}
		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Error("runner did not stop")
		}
	})

	// Give the subscriber a moment to attach so published tasks are
	// not dropped by the in-process broker.
	time.Sleep(50 * time.Millisecond)
	return runner
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task execution")
	}
}

func TestRunnerDispatchesFeedTasks(t *testing.T) {
	feedW := newRecordingFeedWorker()
	storyW := &recordingStoryWorker{done: make(chan struct{}, 8)}
	curatedW := &recordingCuratedWorker{done: make(chan struct{}, 8)}
	runner := startRunner(t, feedW, storyW, curatedW)

	runner.RefreshFeed("user-1", models.ContentPost, true)
	waitSignal(t, feedW.done)
	runner.TopUpFeed("user-1", models.ContentShort, 25)
	waitSignal(t, feedW.done)
	runner.Bookmark("user-2", models.ContentPost, 40, "item-0040")
	waitSignal(t, feedW.done)
	runner.ReplacePersonalized("user-3", models.ContentPost)
	waitSignal(t, feedW.done)

	byKind := make(map[Kind]feedCall)
	for _, c := range feedW.snapshot() {
		byKind[c.kind] = c
	}
	if len(byKind) != 4 {
		t.Fatalf("expected 4 distinct task kinds, got %d", len(byKind))
	}

	refresh := byKind[KindRefreshFeed]
	if refresh.userID != "user-1" || refresh.contentType != models.ContentPost || !refresh.urgent {
		t.Errorf("refresh call = %+v", refresh)
	}
	topUp := byKind[KindTopUpFeed]
	if topUp.contentType != models.ContentShort || topUp.count != 25 {
		t.Errorf("top-up call = %+v", topUp)
	}
	bookmark := byKind[KindBookmark]
	if bookmark.userID != "user-2" || bookmark.position != 40 || bookmark.lastViewed != "item-0040" {
		t.Errorf("bookmark call = %+v", bookmark)
	}
	if byKind[KindReplacePersonalized].userID != "user-3" {
		t.Errorf("replace call = %+v", byKind[KindReplacePersonalized])
	}
}

func TestRunnerDispatchesStoryAndCuratedTasks(t *testing.T) {
	feedW := newRecordingFeedWorker()
	storyW := &recordingStoryWorker{done: make(chan struct{}, 8)}
	curatedW := &recordingCuratedWorker{done: make(chan struct{}, 8)}
	runner := startRunner(t, feedW, storyW, curatedW)

	runner.RefreshStories()
	waitSignal(t, storyW.done)
	runner.RunCurated()
	waitSignal(t, curatedW.done)

	storyW.mu.Lock()
	storyCalls := storyW.calls
	storyW.mu.Unlock()
	if storyCalls != 1 {
		t.Errorf("story refresh calls = %d, want 1", storyCalls)
	}
	curatedW.mu.Lock()
	curatedCalls := curatedW.calls
	curatedW.mu.Unlock()
	if curatedCalls != 1 {
		t.Errorf("curated run calls = %d, want 1", curatedCalls)
	}
}

func TestRunnerSurvivesHandlerErrors(t *testing.T) {
	feedW := newRecordingFeedWorker()
	feedW.refreshErr = errors.New("store unavailable")
	storyW := &recordingStoryWorker{done: make(chan struct{}, 8)}
	curatedW := &recordingCuratedWorker{done: make(chan struct{}, 8)}
	runner := startRunner(t, feedW, storyW, curatedW)

	// A failing task is logged and acked; the next task still runs.
	runner.RefreshFeed("user-1", models.ContentPost, false)
	waitSignal(t, feedW.done)
	runner.TopUpFeed("user-1", models.ContentPost, 10)
	waitSignal(t, feedW.done)

	calls := feedW.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 executed tasks, got %d", len(calls))
	}
	if calls[1].kind != KindTopUpFeed {
		t.Errorf("second task kind = %q, want %q", calls[1].kind, KindTopUpFeed)
	}
}

func TestExecuteRejectsUnknownKind(t *testing.T) {
	runner := NewRunner(newRecordingFeedWorker(), &recordingStoryWorker{done: make(chan struct{}, 1)}, &recordingCuratedWorker{done: make(chan struct{}, 1)}, testTasksConfig(), zerolog.Nop())
	t.Cleanup(func() { _ = runner.Close() })

	if err := runner.execute(context.Background(), payload{Kind: "nonsense"}); err == nil {
		t.Fatal("expected error for unknown task kind")
	}
}
