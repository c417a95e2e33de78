// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/metrics"
)

// BadgerStore is the BadgerDB-backed document store. Keys are namespaced
// as "collection:key"; values are JSON.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory, for tests and ephemeral runs.
	InMemory bool
}

// OpenBadger opens or creates the document store.
func OpenBadger(opts BadgerOptions, logger zerolog.Logger) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", opts.Path, err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

func documentKey(collection, key string) []byte {
	return []byte(collection + ":" + key)
}

// Get unmarshals the document at collection/key into dest.
func (s *BadgerStore) Get(ctx context.Context, collection, key string, dest any) error {
	start := time.Now()
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(collection, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s/%s: %w", collection, key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
	if errors.Is(err, ErrNotFound) {
		metrics.RecordStoreOperation("get", collection, time.Since(start), nil)
		return err
	}
	metrics.RecordStoreOperation("get", collection, time.Since(start), err)
	return err
}

// Set marshals value and writes it at collection/key.
func (s *BadgerStore) Set(ctx context.Context, collection, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, key, err)
	}

	start := time.Now()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(collection, key), data)
	})
	metrics.RecordStoreOperation("set", collection, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes the document at collection/key.
func (s *BadgerStore) Delete(ctx context.Context, collection, key string) error {
	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(documentKey(collection, key))
	})
	metrics.RecordStoreOperation("delete", collection, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Scan visits documents in key order under collection whose keys start
// with prefix. The context is checked between items so long scans abort
// when the request is cancelled.
func (s *BadgerStore) Scan(ctx context.Context, collection, prefix string, fn ScanFunc) error {
	start := time.Now()
	fullPrefix := documentKey(collection, prefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = fullPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), collection+":")
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				if errors.Is(err, ErrStopScan) {
					return nil
				}
				return err
			}
		}
		return nil
	})
	metrics.RecordStoreOperation("scan", collection, time.Since(start), err)
	return err
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs value-log garbage collection until ctx is cancelled.
// Intended to run in its own goroutine.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Rerun while GC keeps finding work; ErrNoRewrite ends the cycle.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn().Err(err).Msg("Value log GC failed")
					}
					break
				}
			}
		}
	}
}
