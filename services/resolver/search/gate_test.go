// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

func match(caseID string, score float64, createdAt time.Time) Match {
	return Match{
		Record: &datatypes.ReportRecord{
			DataID:    "report-" + caseID,
			CaseID:    caseID,
			CreatedAt: createdAt,
		},
		Score: score,
	}
}

func TestGateDecide_PicksHighestScore(t *testing.T) {
	g := NewGate()
	now := time.Now()

	d := g.Decide([]Match{
		match("BOM-PNDKRN-20250314-01-A3F2", 0.87, now),
		match("BOM-PNDKRN-20250314-02-B1C4", 0.93, now),
		match("BOM-PNDKRN-20250314-03-D0E5", 0.86, now),
	}, 0.85)

	require.True(t, d.Matched)
	assert.Equal(t, "BOM-PNDKRN-20250314-02-B1C4", d.Best.Record.CaseID)
	assert.Equal(t, 3, d.SimilarCount)
}

func TestGateDecide_ThresholdIsInclusive(t *testing.T) {
	g := NewGate()

	d := g.Decide([]Match{match("BOM-PNDKRN-20250314-01-A3F2", 0.85, time.Now())}, 0.85)

	require.True(t, d.Matched, "a score exactly at threshold must qualify")
	assert.Equal(t, 1, d.SimilarCount)
}

func TestGateDecide_BelowThreshold(t *testing.T) {
	g := NewGate()

	d := g.Decide([]Match{match("BOM-PNDKRN-20250314-01-A3F2", 0.8499, time.Now())}, 0.85)

	assert.False(t, d.Matched)
	assert.Nil(t, d.Best)
	assert.Zero(t, d.SimilarCount)
}

func TestGateDecide_SkipsUnassignedCandidates(t *testing.T) {
	g := NewGate()

	d := g.Decide([]Match{
		match("", 0.99, time.Now()),
		match("BOM-PNDKRN-20250314-01-A3F2", 0.90, time.Now()),
	}, 0.85)

	require.True(t, d.Matched)
	assert.Equal(t, "BOM-PNDKRN-20250314-01-A3F2", d.Best.Record.CaseID)
	assert.Equal(t, 1, d.SimilarCount)
}

func TestGateDecide_TieBreaksOnOlderReport(t *testing.T) {
	g := NewGate()
	older := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	newer := older.Add(2 * time.Hour)

	// Same candidates, both orders: the decision must not depend on
	// input order.
	a := match("BOM-PNDKRN-20250314-02-B1C4", 0.9, newer)
	b := match("BOM-PNDKRN-20250314-01-A3F2", 0.9, older)

	d1 := g.Decide([]Match{a, b}, 0.85)
	d2 := g.Decide([]Match{b, a}, 0.85)

	require.True(t, d1.Matched)
	assert.Equal(t, "BOM-PNDKRN-20250314-01-A3F2", d1.Best.Record.CaseID)
	assert.Equal(t, d1.Best.Record.CaseID, d2.Best.Record.CaseID)
}

func TestGateDecide_EmptyCandidates(t *testing.T) {
	g := NewGate()

	d := g.Decide(nil, 0.85)

	assert.False(t, d.Matched)
}
