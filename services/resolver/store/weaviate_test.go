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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestObjectID_Deterministic(t *testing.T) {
	first := ObjectID("rpt-001")
	second := ObjectID("rpt-001")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, ObjectID("rpt-002"))
}

func TestObjectID_IsValidUUID(t *testing.T) {
	id := ObjectID("rpt-001")

	assert.Regexp(t,
		"^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$",
		string(id))
}

func TestDailyIndexOf(t *testing.T) {
	testCases := []struct {
		caseID   string
		expected int
		ok       bool
	}{
		{"BOM-PNDKRN-20250314-01-A3F2", 1, true},
		{"BOM-PNDKRN-20250314-12-A3F2", 12, true},
		{"BOM-PNDKRN-20250314-103-A3F2", 103, true},
		{"BOM-PNDKRN-20250314", 0, false},
		{"", 0, false},
		{"BOM-PNDKRN-20250314-xx-A3F2", 0, false},
	}

	for _, tc := range testCases {
		idx, ok := DailyIndexOf(tc.caseID)
		assert.Equal(t, tc.ok, ok, tc.caseID)
		assert.Equal(t, tc.expected, idx, tc.caseID)
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := Config{Host: "localhost:8080"}

	applyConfigDefaults(&cfg)

	assert.Equal(t, "http", cfg.Scheme)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxRetryBackoff)
	assert.Equal(t, 0.25, cfg.RetryJitter)
}

func TestNewWeaviateStore_RequiresHost(t *testing.T) {
	_, err := NewWeaviateStore(Config{})

	require.Error(t, err)
}

func TestCalculateBackoff_StaysInBounds(t *testing.T) {
	s := &WeaviateStore{cfg: Config{
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: time.Second,
		RetryJitter:     0.25,
	}}

	for attempt := 1; attempt <= 10; attempt++ {
		backoff := s.calculateBackoff(attempt)
		assert.Greater(t, backoff, time.Duration(0))
		assert.LessOrEqual(t, backoff, time.Second+250*time.Millisecond,
			"max backoff plus jitter headroom")
	}
}

func TestGraphQLErrors(t *testing.T) {
	assert.Error(t, graphQLErrors(nil))
	assert.NoError(t, graphQLErrors(&models.GraphQLResponse{}))

	err := graphQLErrors(&models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}
