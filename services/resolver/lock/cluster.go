// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides per-cluster mutual exclusion for case minting.
// Only resolutions that collide on the same cluster key serialize;
// unrelated clusters proceed in parallel.
package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

// DefaultMaxWait bounds how long an acquisition waits behind the
// current holder before giving up.
const DefaultMaxWait = 10 * time.Second

// ClusterLocks is an in-process keyed mutex. Lock entries are created
// on first use and removed once the last waiter releases, so the map
// does not grow with the number of distinct clusters ever seen.
type ClusterLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	maxWait time.Duration
}

type lockEntry struct {
	// sem is a 1-slot semaphore: sending acquires, receiving releases.
	sem  chan struct{}
	refs int
}

// NewClusterLocks creates a lock set with the given maximum wait.
// A non-positive maxWait uses DefaultMaxWait.
func NewClusterLocks(maxWait time.Duration) *ClusterLocks {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &ClusterLocks{
		entries: make(map[string]*lockEntry),
		maxWait: maxWait,
	}
}

// Acquire takes the lock for a cluster key, waiting up to the
// configured maximum behind the current holder.
//
// # Outputs
//   - release: must be called exactly once to free the lock.
//   - error: *datatypes.ClusterBusyError when the maximum wait passes
//     without the lock, or the context error when the caller gave up
//     first.
func (c *ClusterLocks) Acquire(ctx context.Context, key string) (release func(), err error) {
	entry := c.checkout(key)

	start := time.Now()
	timer := time.NewTimer(c.maxWait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			c.checkin(key, entry)
		}, nil
	case <-timer.C:
		c.checkin(key, entry)
		waited := time.Since(start)
		slog.Warn("cluster lock wait exhausted",
			"cluster_key", key,
			"waited", waited.String())
		return nil, &datatypes.ClusterBusyError{ClusterKey: key, Waited: waited}
	case <-ctx.Done():
		c.checkin(key, entry)
		return nil, ctx.Err()
	}
}

// checkout returns the entry for a key, creating it when absent.
func (c *ClusterLocks) checkout(key string) *lockEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		c.entries[key] = entry
	}
	entry.refs++
	return entry
}

// checkin drops one reference and removes the entry once unused.
func (c *ClusterLocks) checkin(key string, entry *lockEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(c.entries, key)
	}
}

// Len reports how many cluster keys currently have live entries.
func (c *ClusterLocks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
