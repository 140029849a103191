// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
)

// counterKeyPrefix namespaces daily-index keys inside the badger store.
const counterKeyPrefix = "daily_index:"

// SeedFunc returns the highest daily index already minted for a cluster,
// typically by scanning the report store. Zero means a fresh cluster.
type SeedFunc func(ctx context.Context, clusterKey string) (int, error)

// IndexCounter hands out daily case indices per cluster key, persisted
// in badger so a restart does not reuse an index. On first sight of a
// cluster key the counter seeds itself from the report store, so
// clusters minted before the counter existed continue their sequence.
//
// Callers must hold the cluster lock for the key while calling Next;
// the counter itself only guards against transaction conflicts.
type IndexCounter struct {
	db   *badger.DB
	seed SeedFunc
}

// NewIndexCounter opens a persistent counter at the given path.
func NewIndexCounter(path string, seed SeedFunc) (*IndexCounter, error) {
	if path == "" {
		return nil, errors.New("counter path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create counter directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open counter database: %w", err)
	}
	return &IndexCounter{db: db, seed: seed}, nil
}

// NewInMemoryIndexCounter opens an ephemeral counter for tests.
func NewInMemoryIndexCounter(seed SeedFunc) (*IndexCounter, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory counter database: %w", err)
	}
	return &IndexCounter{db: db, seed: seed}, nil
}

// Next reserves the next daily index for a cluster key, starting at 1.
// Indices consumed by resolutions that later fail are not reclaimed;
// the sequence may have gaps but never duplicates.
func (c *IndexCounter) Next(ctx context.Context, clusterKey string) (int, error) {
	key := []byte(counterKeyPrefix + clusterKey)

	var next int
	err := c.db.Update(func(txn *badger.Txn) error {
		current, err := c.currentValue(ctx, txn, key, clusterKey)
		if err != nil {
			return err
		}
		next = current + 1
		return txn.Set(key, []byte(strconv.Itoa(next)))
	})
	if err != nil {
		return 0, fmt.Errorf("reserve daily index for %s: %w", clusterKey, err)
	}
	return next, nil
}

// currentValue reads the stored counter, seeding it on first use.
func (c *IndexCounter) currentValue(ctx context.Context, txn *badger.Txn, key []byte, clusterKey string) (int, error) {
	item, err := txn.Get(key)
	switch {
	case err == nil:
		var current int
		err := item.Value(func(val []byte) error {
			parsed, parseErr := strconv.Atoi(string(val))
			if parseErr != nil {
				return fmt.Errorf("corrupt counter value %q: %w", val, parseErr)
			}
			current = parsed
			return nil
		})
		return current, err
	case errors.Is(err, badger.ErrKeyNotFound):
		if c.seed == nil {
			return 0, nil
		}
		return c.seed(ctx, clusterKey)
	default:
		return 0, err
	}
}

// Close releases the underlying database.
func (c *IndexCounter) Close() error {
	return c.db.Close()
}
