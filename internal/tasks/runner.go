// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package tasks runs the fire-and-forget background work the serving
// path schedules: feed refreshes, top-ups, bookmarks, personalization
// upgrades, story refreshes, and manual curated runs.
//
// Delivery is in-process pub/sub (watermill gochannel): at-most-once,
// no retries, no ordering. A failed handler logs, counts a metric, and
// acks. Background work is never allowed to fail a user request, and a
// lost task costs only staleness until the next request reschedules the
// same work.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/metrics"
	"github.com/zapsocial/zapfeed/internal/models"
)

// topic is the single pub/sub topic all background tasks flow through.
const topic = "background.tasks"

// Kind discriminates task payloads.
type Kind string

const (
	KindRefreshFeed         Kind = "refresh_feed"
	KindTopUpFeed           Kind = "top_up_feed"
	KindBookmark            Kind = "bookmark"
	KindReplacePersonalized Kind = "replace_personalized"
	KindRefreshStories      Kind = "refresh_stories"
	KindCuratedRun          Kind = "curated_run"
)

// payload is the wire form of one task.
type payload struct {
	Kind             Kind               `json:"kind"`
	UserID           string             `json:"user_id,omitempty"`
	ContentType      models.ContentType `json:"content_type,omitempty"`
	Urgent           bool               `json:"urgent,omitempty"`
	Count            int                `json:"count,omitempty"`
	Position         int                `json:"position,omitempty"`
	LastViewedItemID string             `json:"last_viewed_item_id,omitempty"`
}

// FeedWorker is the synchronous feed surface the handlers call.
type FeedWorker interface {
	RefreshFeedNow(ctx context.Context, userID string, contentType models.ContentType, urgent bool) error
	TopUpFeedNow(ctx context.Context, userID string, contentType models.ContentType, count int) error
	ReplacePersonalizedNow(ctx context.Context, userID string, contentType models.ContentType) error
	BookmarkNow(ctx context.Context, userID string, contentType models.ContentType, position int, lastViewedItemID string)
}

// StoryWorker refreshes the global story cache.
type StoryWorker interface {
	RefreshNow(ctx context.Context) (*models.StoryCacheEntry, error)
}

// CuratedWorker runs the daily curated batch.
type CuratedWorker interface {
	Run(ctx context.Context) error
}

// Runner publishes and executes background tasks. It implements the
// serving path's task surface on the publish side and suture.Service on
// the consume side.
type Runner struct {
	pubsub  *gochannel.GoChannel
	feed    FeedWorker
	stories StoryWorker
	curated CuratedWorker
	cfg     config.TasksConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewRunner creates the task runner.
func NewRunner(feed FeedWorker, stories StoryWorker, curated CuratedWorker, cfg config.TasksConfig, logger zerolog.Logger) *Runner {
	componentLogger := logger.With().Str("component", "tasks").Logger()

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Workers)
	}

	return &Runner{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			watermillLogger{componentLogger},
		),
		feed:    feed,
		stories: stories,
		curated: curated,
		cfg:     cfg,
		limiter: limiter,
		logger:  componentLogger,
	}
}

// String implements fmt.Stringer for supervisor logs.
func (r *Runner) String() string { return "task-runner" }

// publish enqueues one task. Failures are logged, never surfaced: the
// caller is a serving request that must not care.
func (r *Runner) publish(p payload) {
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.Error().Err(err).Str("task", string(p.Kind)).Msg("Task marshal failed")
		return
	}
	msg := message.NewMessage(uuid.NewString(), data)
	if err := r.pubsub.Publish(topic, msg); err != nil {
		r.logger.Warn().Err(err).Str("task", string(p.Kind)).Msg("Task publish failed")
		return
	}
	metrics.TasksPublished.WithLabelValues(string(p.Kind)).Inc()
}

// RefreshFeed schedules a background feed regeneration-and-append.
func (r *Runner) RefreshFeed(userID string, contentType models.ContentType, urgent bool) {
	r.publish(payload{Kind: KindRefreshFeed, UserID: userID, ContentType: contentType, Urgent: urgent})
}

// TopUpFeed schedules a top-up for a feed nearing exhaustion.
func (r *Runner) TopUpFeed(userID string, contentType models.ContentType, count int) {
	r.publish(payload{Kind: KindTopUpFeed, UserID: userID, ContentType: contentType, Count: count})
}

// Bookmark schedules a pagination bookmark write.
func (r *Runner) Bookmark(userID string, contentType models.ContentType, position int, lastViewedItemID string) {
	r.publish(payload{
		Kind: KindBookmark, UserID: userID, ContentType: contentType,
		Position: position, LastViewedItemID: lastViewedItemID,
	})
}

// ReplacePersonalized schedules a personalization upgrade of a
// fallback-cached feed.
func (r *Runner) ReplacePersonalized(userID string, contentType models.ContentType) {
	r.publish(payload{Kind: KindReplacePersonalized, UserID: userID, ContentType: contentType})
}

// RefreshStories schedules a story cache refresh.
func (r *Runner) RefreshStories() {
	r.publish(payload{Kind: KindRefreshStories})
}

// RunCurated schedules a curated batch run.
func (r *Runner) RunCurated() {
	r.publish(payload{Kind: KindCuratedRun})
}

// Serve implements suture.Service: it consumes the task topic with a
// worker pool until the context is cancelled.
func (r *Runner) Serve(ctx context.Context) error {
	messages, err := r.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe tasks: %w", err)
	}
	r.logger.Info().Int("workers", r.cfg.Workers).Msg("Task runner started")

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				r.handle(ctx, msg)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close shuts the pub/sub down. Pending tasks are dropped.
func (r *Runner) Close() error {
	return r.pubsub.Close()
}

func (r *Runner) handle(ctx context.Context, msg *message.Message) {
	// Every message acks exactly once, success or not.
	defer msg.Ack()

	var p payload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		r.logger.Error().Err(err).Str("message_id", msg.UUID).Msg("Task payload decode failed")
		return
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := r.execute(taskCtx, p)
	metrics.TaskDuration.WithLabelValues(string(p.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TaskFailures.WithLabelValues(string(p.Kind)).Inc()
		r.logger.Warn().Err(err).
			Str("task", string(p.Kind)).
			Str("user_id", p.UserID).
			Msg("Background task failed")
	}
}

func (r *Runner) execute(ctx context.Context, p payload) error {
	switch p.Kind {
	case KindRefreshFeed:
		return r.feed.RefreshFeedNow(ctx, p.UserID, p.ContentType, p.Urgent)
	case KindTopUpFeed:
		return r.feed.TopUpFeedNow(ctx, p.UserID, p.ContentType, p.Count)
	case KindBookmark:
		r.feed.BookmarkNow(ctx, p.UserID, p.ContentType, p.Position, p.LastViewedItemID)
		return nil
	case KindReplacePersonalized:
		return r.feed.ReplacePersonalizedNow(ctx, p.UserID, p.ContentType)
	case KindRefreshStories:
		_, err := r.stories.RefreshNow(ctx)
		return err
	case KindCuratedRun:
		return r.curated.Run(ctx)
	default:
		return fmt.Errorf("unknown task kind %q", p.Kind)
	}
}

// watermillLogger adapts zerolog to watermill's logger interface.
type watermillLogger struct {
	logger zerolog.Logger
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), msg, fields)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, fields) // watermill's info is noise at our info level
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, fields)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), msg, fields)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return watermillLogger{ctx.Logger()}
}

func (l watermillLogger) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
