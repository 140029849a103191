// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

func TestAcquire_Uncontended(t *testing.T) {
	locks := NewClusterLocks(time.Second)

	release, err := locks.Acquire(context.Background(), "BOM-PNDKRN-20250314")

	require.NoError(t, err)
	release()
	assert.Zero(t, locks.Len(), "entry must be reclaimed after release")
}

func TestAcquire_DifferentKeysDoNotBlock(t *testing.T) {
	locks := NewClusterLocks(time.Second)

	r1, err := locks.Acquire(context.Background(), "BOM-PNDKRN-20250314")
	require.NoError(t, err)
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := locks.Acquire(context.Background(), "BOM-JKTPST-20250314")
		assert.NoError(t, err)
		r2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("unrelated cluster key blocked")
	}
}

func TestAcquire_SameKeySerializes(t *testing.T) {
	locks := NewClusterLocks(5 * time.Second)

	const workers = 8
	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "BOM-PNDKRN-20250314")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical, "at most one holder per cluster key")
	assert.Zero(t, locks.Len())
}

func TestAcquire_BusyAfterMaxWait(t *testing.T) {
	locks := NewClusterLocks(50 * time.Millisecond)

	release, err := locks.Acquire(context.Background(), "BOM-PNDKRN-20250314")
	require.NoError(t, err)
	defer release()

	_, err = locks.Acquire(context.Background(), "BOM-PNDKRN-20250314")

	require.Error(t, err)
	assert.True(t, datatypes.IsClusterBusy(err))
}

func TestAcquire_ContextCancellation(t *testing.T) {
	locks := NewClusterLocks(time.Minute)

	release, err := locks.Acquire(context.Background(), "BOM-PNDKRN-20250314")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locks.Acquire(ctx, "BOM-PNDKRN-20250314")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, datatypes.IsClusterBusy(err))
}
