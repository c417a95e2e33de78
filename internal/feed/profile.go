// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package feed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/models"
)

// ProfileBuilder assembles the per-request personalization profile from
// independent reads. Every read is best-effort: a failed read logs and
// leaves its slice of the profile empty, degrading personalization
// instead of failing the request.
type ProfileBuilder struct {
	analytics    AnalyticsReader
	interactions InteractionReader
	graph        GraphReader
	logger       zerolog.Logger
}

// NewProfileBuilder creates a profile builder.
func NewProfileBuilder(analytics AnalyticsReader, interactions InteractionReader, graph GraphReader, logger zerolog.Logger) *ProfileBuilder {
	return &ProfileBuilder{
		analytics:    analytics,
		interactions: interactions,
		graph:        graph,
		logger:       logger.With().Str("component", "profile").Logger(),
	}
}

// Build reads the user's affinities, follow graph, viewed set, blocks,
// and interaction count in parallel. It never returns an error.
func (b *ProfileBuilder) Build(ctx context.Context, userID string) *models.UserProfile {
	profile := &models.UserProfile{
		UserID:            userID,
		TagAffinity:       map[string]float64{},
		AuthorAffinity:    map[string]float64{},
		FollowedAuthorIDs: map[string]struct{}{},
		ViewedItemIDs:     map[string]struct{}{},
		BlockedItemIDs:    map[string]struct{}{},
		BlockedAuthorIDs:  map[string]struct{}{},
	}

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				b.logger.Warn().Err(err).Str("user_id", userID).Str("read", name).
					Msg("Profile read failed, continuing without it")
			}
		}()
	}

	// Each goroutine writes disjoint fields, so no locking is needed.
	run("analytics", func() error {
		rec, err := b.analytics.UserAnalytics(ctx, userID)
		if err != nil {
			return err
		}
		for tag, w := range rec.TagsLiked {
			profile.TagAffinity[tag] = w
		}
		for author, w := range rec.AuthorsLiked {
			profile.AuthorAffinity[author] = w
		}
		return nil
	})
	run("following", func() error {
		authors, err := b.graph.Following(ctx, userID)
		if err != nil {
			return err
		}
		for _, a := range authors {
			profile.FollowedAuthorIDs[a] = struct{}{}
		}
		return nil
	})
	run("viewed", func() error {
		viewed, err := b.interactions.ViewedItemIDs(ctx, userID)
		if err != nil {
			return err
		}
		for id := range viewed {
			profile.ViewedItemIDs[id] = struct{}{}
		}
		return nil
	})
	run("blocks", func() error {
		blocks, err := b.graph.Blocks(ctx, userID)
		if err != nil {
			return err
		}
		for _, id := range blocks.ItemIDs {
			profile.BlockedItemIDs[id] = struct{}{}
		}
		for _, id := range blocks.AuthorIDs {
			profile.BlockedAuthorIDs[id] = struct{}{}
		}
		return nil
	})
	run("interactions", func() error {
		count, err := b.interactions.CountForUser(ctx, userID)
		if err != nil {
			return err
		}
		profile.InteractionCount = count
		return nil
	})

	wg.Wait()
	return profile
}
