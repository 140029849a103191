// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package caseid derives human-readable case identifiers of the form
//
//	{CATEGORY}-{LOCATION_CODE}-{DATE}-{DAILY_INDEX}-{HASH}
//
// e.g. BOM-PNDKRN-20250314-01-A3F2. Everything except the daily index
// is a pure function of the report, so the same report always lands in
// the same cluster.
package caseid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

const (
	// locationCodeWidth is the fixed width of the LOCATION_CODE segment.
	locationCodeWidth = 6

	// UnknownLocationCode is the sentinel used when a location offers no
	// code, name, or coordinate to derive a code from.
	UnknownLocationCode = "UNKLOC"

	dateLayout = "20060102"
)

// Generator mints case identifiers.
type Generator struct{}

// NewGenerator creates a case ID generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// ClusterKey returns the cluster prefix {CATEGORY}-{LOCATION_CODE}-{DATE}
// for a report. Reports sharing a cluster key compete for the same daily
// index sequence, and concurrent resolution serializes on this key.
//
// The date is taken in the report's own timezone, so a report filed just
// after local midnight starts a fresh daily sequence.
func (g *Generator) ClusterKey(rec *datatypes.ReportRecord) string {
	return fmt.Sprintf("%s-%s-%s",
		strings.ToUpper(rec.Category),
		LocationCode(&rec.Location),
		rec.CreatedAt.Format(dateLayout))
}

// Generate mints the full case ID for a report given its daily index.
//
// # Example
//
//	id := gen.Generate(rec, 1) // "BOM-PNDKRN-20250314-01-A3F2"
func (g *Generator) Generate(rec *datatypes.ReportRecord, dailyIndex int) string {
	return fmt.Sprintf("%s-%02d-%s", g.ClusterKey(rec), dailyIndex, hashSuffix(rec))
}

// hashSuffix derives the 4-char disambiguation suffix from the report's
// content digest, uppercased hex.
func hashSuffix(rec *datatypes.ReportRecord) string {
	sum := sha256.Sum256([]byte(rec.ContentDigest()))
	return strings.ToUpper(hex.EncodeToString(sum[:2]))
}

// =============================================================================
// Location code derivation
// =============================================================================

// LocationCode derives the fixed-width location segment of a case ID.
//
// # Description
//
// Preference order: the most specific administrative code, then the most
// specific administrative name, then a cell derived from the primary
// coordinate. A location with none of these gets the UNKLOC sentinel.
// The result is always exactly 6 uppercase alphanumeric characters.
func LocationCode(loc *datatypes.LocationDetails) string {
	if loc == nil {
		return UnknownLocationCode
	}

	for _, code := range []string{loc.SubdistrictCode, loc.DistrictCode, loc.CityCode, loc.ProvinceCode} {
		if code != "" {
			return fitCode(alphanumeric(code))
		}
	}
	for _, name := range []string{loc.SubdistrictName, loc.DistrictName, loc.CityName, loc.ProvinceName} {
		if name != "" {
			return fitCode(nameSkeleton(name))
		}
	}
	if loc.Coordinate != nil {
		return coordinateCell(*loc.Coordinate)
	}
	return UnknownLocationCode
}

// fitCode pads or truncates a candidate to the fixed width.
func fitCode(s string) string {
	if s == "" {
		return UnknownLocationCode
	}
	if len(s) >= locationCodeWidth {
		return s[:locationCodeWidth]
	}
	return s + strings.Repeat("X", locationCodeWidth-len(s))
}

// alphanumeric uppercases and strips everything outside [A-Z0-9].
func alphanumeric(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nameSkeleton compresses a place name into a short code: the first
// letter is kept, vowels are dropped from the rest. "Pondok Aren"
// becomes PNDKRN.
func nameSkeleton(name string) string {
	letters := []rune{}
	for _, r := range strings.ToUpper(name) {
		if unicode.IsLetter(r) && r < 128 {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteRune(letters[0])
	for _, r := range letters[1:] {
		switch r {
		case 'A', 'E', 'I', 'O', 'U':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// coordinateCell maps a coordinate to a stable 6-char cell code by
// hashing its position quantized to a ~100m grid. Nearby reports with
// slightly different fixes can still land in different cells; the
// similarity search, not the code, decides case membership.
func coordinateCell(c datatypes.Coordinate) string {
	cell := fmt.Sprintf("%.3f:%.3f", c.Lat, c.Lon)
	sum := sha256.Sum256([]byte(cell))
	return strings.ToUpper(hex.EncodeToString(sum[:3]))
}
