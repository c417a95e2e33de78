// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// MemoryStore is an in-memory Store used in tests and as a lightweight
// stand-in where durability is not needed.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, collection, key string, dest any) error {
	s.mu.RLock()
	raw, ok := s.data[collection+":"+key]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, collection, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[collection+":"+key] = raw
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	delete(s.data, collection+":"+key)
	s.mu.Unlock()
	return nil
}

// Scan implements Store. Keys are visited in sorted order to match the
// on-disk implementation.
func (s *MemoryStore) Scan(ctx context.Context, collection, prefix string, fn ScanFunc) error {
	fullPrefix := collection + ":" + prefix

	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, fullPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = s.data[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(strings.TrimPrefix(k, collection+":"), values[i]); err != nil {
			if err == ErrStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
