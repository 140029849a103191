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
	"sort"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

// Match is one vector-search hit with its similarity score in [0, 1].
type Match struct {
	Record *datatypes.ReportRecord
	Score  float64
}

// Decision is the outcome of gating a candidate set.
type Decision struct {
	// Matched is true when at least one candidate with an assigned case
	// scored at or above the threshold.
	Matched bool
	// Best is the highest-scoring qualifying match; nil when Matched is
	// false.
	Best *Match
	// SimilarCount is the number of qualifying matches.
	SimilarCount int
}

// Gate applies the similarity threshold to a candidate set.
//
// The threshold is inclusive: a candidate scoring exactly the threshold
// qualifies. Candidates without an assigned case ID never qualify; they
// are reports still in flight and must not anchor a link.
type Gate struct{}

// NewGate creates a similarity gate.
func NewGate() *Gate {
	return &Gate{}
}

// Decide picks the best qualifying match from the candidates.
//
// Ties on score break toward the earlier-created report, so the same
// candidate set always yields the same decision regardless of input
// order.
func (g *Gate) Decide(candidates []Match, threshold float64) Decision {
	qualifying := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Record == nil || c.Record.CaseID == "" {
			continue
		}
		if c.Score >= threshold {
			qualifying = append(qualifying, c)
		}
	}
	if len(qualifying) == 0 {
		return Decision{}
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		if qualifying[i].Score != qualifying[j].Score {
			return qualifying[i].Score > qualifying[j].Score
		}
		return qualifying[i].Record.CreatedAt.Before(qualifying[j].Record.CreatedAt)
	})

	best := qualifying[0]
	return Decision{
		Matched:      true,
		Best:         &best,
		SimilarCount: len(qualifying),
	}
}
