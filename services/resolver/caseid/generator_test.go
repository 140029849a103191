// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package caseid

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

var caseIDPattern = regexp.MustCompile(`^[A-Z]+-[A-Z0-9]{6}-\d{8}-\d{2,}-[0-9A-F]{4}$`)

func sampleRecord() *datatypes.ReportRecord {
	jakarta := time.FixedZone("WIB", 7*3600)
	return &datatypes.ReportRecord{
		DataID:    "rpt-001",
		Content:   "Ledakan dilaporkan di dekat stasiun",
		Category:  "BOM",
		CreatedAt: time.Date(2025, 3, 14, 22, 30, 0, 0, jakarta),
		Location: datatypes.LocationDetails{
			DistrictName: "Pondok Aren",
			CityName:     "Tangerang Selatan",
		},
	}
}

func TestGenerate_Format(t *testing.T) {
	g := NewGenerator()
	rec := sampleRecord()

	id := g.Generate(rec, 1)

	assert.Regexp(t, caseIDPattern, id)
	assert.Contains(t, id, "BOM-PNDKRN-20250314-01-")
}

func TestGenerate_Deterministic(t *testing.T) {
	g := NewGenerator()

	first := g.Generate(sampleRecord(), 3)
	second := g.Generate(sampleRecord(), 3)

	assert.Equal(t, first, second)
}

func TestGenerate_IndexChangesID(t *testing.T) {
	g := NewGenerator()
	rec := sampleRecord()

	assert.NotEqual(t, g.Generate(rec, 1), g.Generate(rec, 2))
}

func TestClusterKey_UsesReportLocalDate(t *testing.T) {
	g := NewGenerator()
	rec := sampleRecord()
	// 2025-03-14 22:30 WIB is 2025-03-14 15:30 UTC; the key must carry
	// the local date.
	require.Equal(t, "2025-03-14", rec.CreatedAt.Format("2006-01-02"))

	key := g.ClusterKey(rec)

	assert.Equal(t, "BOM-PNDKRN-20250314", key)
}

func TestClusterKey_LocalMidnightRollsDate(t *testing.T) {
	g := NewGenerator()
	jakarta := time.FixedZone("WIB", 7*3600)
	rec := sampleRecord()
	rec.CreatedAt = time.Date(2025, 3, 15, 0, 10, 0, 0, jakarta)

	assert.Equal(t, "BOM-PNDKRN-20250315", g.ClusterKey(rec))
}

func TestLocationCode_PreferenceOrder(t *testing.T) {
	testCases := []struct {
		name     string
		loc      *datatypes.LocationDetails
		expected string
	}{
		{
			name: "subdistrict code wins",
			loc: &datatypes.LocationDetails{
				SubdistrictCode: "3674070005",
				DistrictCode:    "3674070",
				DistrictName:    "Pondok Aren",
			},
			expected: "367407",
		},
		{
			name: "district code when no subdistrict",
			loc: &datatypes.LocationDetails{
				DistrictCode: "3674070",
				DistrictName: "Pondok Aren",
			},
			expected: "367407",
		},
		{
			name:     "name skeleton when no codes",
			loc:      &datatypes.LocationDetails{DistrictName: "Pondok Aren"},
			expected: "PNDKRN",
		},
		{
			name:     "short code padded",
			loc:      &datatypes.LocationDetails{CityCode: "31"},
			expected: "31XXXX",
		},
		{
			name:     "short name padded",
			loc:      &datatypes.LocationDetails{CityName: "Riau"},
			expected: "RXXXXX",
		},
		{
			name:     "nothing usable",
			loc:      &datatypes.LocationDetails{Address: "jalan raya"},
			expected: UnknownLocationCode,
		},
		{
			name:     "nil location",
			loc:      nil,
			expected: UnknownLocationCode,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, LocationCode(tc.loc))
		})
	}
}

func TestLocationCode_CoordinateCellIsStable(t *testing.T) {
	loc := &datatypes.LocationDetails{
		Coordinate: &datatypes.Coordinate{Lat: -6.2689, Lon: 106.7103},
	}

	first := LocationCode(loc)
	second := LocationCode(loc)

	assert.Equal(t, first, second)
	assert.Len(t, first, 6)
	assert.Regexp(t, "^[0-9A-F]{6}$", first)
}

func TestLocationCode_AlwaysFixedWidth(t *testing.T) {
	locs := []*datatypes.LocationDetails{
		{SubdistrictCode: "3674070005"},
		{DistrictName: "Pondok Aren"},
		{CityName: "Ba"},
		{Coordinate: &datatypes.Coordinate{Lat: 1, Lon: 2}},
		{},
	}

	for i, loc := range locs {
		assert.Len(t, LocationCode(loc), 6, fmt.Sprintf("case %d", i))
	}
}
