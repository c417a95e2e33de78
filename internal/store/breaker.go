// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/zapsocial/zapfeed/internal/metrics"
)

// BreakerStore wraps a Store with a circuit breaker so a failing backend
// sheds load fast instead of stacking up slow requests. ErrNotFound and
// context cancellation pass through without counting as failures.
type BreakerStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker[any]
	logger  zerolog.Logger
}

// NewBreakerStore wraps inner with a circuit breaker.
func NewBreakerStore(inner Store, settings gobreaker.Settings, logger zerolog.Logger) *BreakerStore {
	componentLogger := logger.With().Str("component", "store-breaker").Logger()

	if settings.Name == "" {
		settings.Name = "document-store"
	}
	if settings.OnStateChange == nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			componentLogger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Store circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		}
	}

	return &BreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  componentLogger,
	}
}

// DefaultBreakerSettings builds breaker settings from the configured
// failure threshold and open timeout.
func DefaultBreakerSettings(maxFailures uint32, timeout time.Duration) gobreaker.Settings {
	return gobreaker.Settings{
		Name:    "document-store",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// execute runs op through the breaker, keeping expected outcomes
// (not-found, caller cancellation) from tripping it.
func (s *BreakerStore) execute(op func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		if err := op(); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	return nil
}

// Get implements Store.
func (s *BreakerStore) Get(ctx context.Context, collection, key string, dest any) error {
	var opErr error
	if err := s.execute(func() error {
		opErr = s.inner.Get(ctx, collection, key, dest)
		return opErr
	}); err != nil {
		return err
	}
	return opErr
}

// Set implements Store.
func (s *BreakerStore) Set(ctx context.Context, collection, key string, value any) error {
	var opErr error
	if err := s.execute(func() error {
		opErr = s.inner.Set(ctx, collection, key, value)
		return opErr
	}); err != nil {
		return err
	}
	return opErr
}

// Delete implements Store.
func (s *BreakerStore) Delete(ctx context.Context, collection, key string) error {
	var opErr error
	if err := s.execute(func() error {
		opErr = s.inner.Delete(ctx, collection, key)
		return opErr
	}); err != nil {
		return err
	}
	return opErr
}

// Scan implements Store.
func (s *BreakerStore) Scan(ctx context.Context, collection, prefix string, fn ScanFunc) error {
	var opErr error
	if err := s.execute(func() error {
		opErr = s.inner.Scan(ctx, collection, prefix, fn)
		return opErr
	}); err != nil {
		return err
	}
	return opErr
}

// Close implements Store. Close bypasses the breaker.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}
