// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package supervisor

import (
	"context"
	"time"

	"github.com/zapsocial/zapfeed/internal/store"
)

// StoreGCService runs the embedded store's value-log garbage
// collection loop under supervision.
type StoreGCService struct {
	db       *store.BadgerStore
	interval time.Duration
}

// NewStoreGCService creates the GC service.
func NewStoreGCService(db *store.BadgerStore, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{db: db, interval: interval}
}

// String implements fmt.Stringer for supervisor logs.
func (s *StoreGCService) String() string { return "store-gc" }

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	s.db.RunGC(ctx, s.interval)
	return ctx.Err()
}
