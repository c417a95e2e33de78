// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package curated

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/config"
)

// Scheduler runs the daily batch at midnight UTC. It is a suture
// service: Serve blocks until the context is cancelled and the
// supervisor restarts it if it ever fails.
type Scheduler struct {
	builder *Builder
	cfg     config.CuratedConfig
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates the daily batch scheduler.
func NewScheduler(builder *Builder, cfg config.CuratedConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		builder: builder,
		cfg:     cfg,
		logger:  logger.With().Str("component", "curated-scheduler").Logger(),
		now:     time.Now,
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Scheduler) String() string { return "curated-scheduler" }

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	// Catch-up run: if the process was down over midnight (or this is
	// first boot) today's lists do not exist yet.
	if s.cfg.RunOnStart && !s.builder.HasToday(ctx) {
		s.logger.Info().Msg("Today's curated lists absent, building now")
		if err := s.builder.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Startup curated build failed")
		}
	}

	for {
		wait := untilNextMidnightUTC(s.now())
		s.logger.Debug().Dur("wait", wait).Msg("Curated scheduler sleeping until midnight UTC")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := s.builder.Run(ctx); err != nil {
				// Logged and retried tomorrow; yesterday's lists keep
				// serving as fallback meanwhile.
				s.logger.Error().Err(err).Msg("Scheduled curated build failed")
			}
		}
	}
}

func untilNextMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now)
}
