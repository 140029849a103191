// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

func TestNormalize_ValidCoordinate(t *testing.T) {
	n := NewNormalizer()
	loc := &datatypes.LocationDetails{
		Coordinate: &datatypes.Coordinate{Lat: -6.2689, Lon: 106.7103},
	}

	err := n.Normalize(loc)

	require.NoError(t, err)
}

func TestNormalize_AdminIdentifierOnly(t *testing.T) {
	n := NewNormalizer()
	loc := &datatypes.LocationDetails{
		DistrictName: "  Pondok Aren  ",
		CityName:     "Tangerang Selatan",
	}

	err := n.Normalize(loc)

	require.NoError(t, err)
	assert.Equal(t, "Pondok Aren", loc.DistrictName, "names should be trimmed")
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer()
	loc := &datatypes.LocationDetails{
		DistrictName: " Pondok Aren ",
		Coordinate:   &datatypes.Coordinate{Lat: -6.2689, Lon: 106.7103},
	}

	require.NoError(t, n.Normalize(loc))
	first := *loc
	require.NoError(t, n.Normalize(loc))

	assert.Equal(t, first, *loc, "second pass must not change the location")
}

func TestNormalize_InvalidCoordinates(t *testing.T) {
	testCases := []struct {
		name string
		loc  *datatypes.LocationDetails
	}{
		{
			name: "latitude out of range",
			loc: &datatypes.LocationDetails{
				Coordinate: &datatypes.Coordinate{Lat: 91.0, Lon: 106.7},
			},
		},
		{
			name: "longitude out of range",
			loc: &datatypes.LocationDetails{
				Coordinate: &datatypes.Coordinate{Lat: -6.2, Lon: 181.0},
			},
		},
		{
			name: "bad centroid coordinate",
			loc: &datatypes.LocationDetails{
				DistrictName:       "Pondok Aren",
				DistrictCoordinate: &datatypes.Coordinate{Lat: -100.0, Lon: 106.7},
			},
		},
	}

	n := NewNormalizer()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := n.Normalize(tc.loc)

			require.Error(t, err)
			assert.True(t, datatypes.IsInvalidLocation(err))
		})
	}
}

func TestNormalize_NoSpatialSignalIsAccepted(t *testing.T) {
	n := NewNormalizer()

	loc := &datatypes.LocationDetails{Address: "  somewhere  "}
	err := n.Normalize(loc)

	require.NoError(t, err)
	assert.Equal(t, "somewhere", loc.Address)
	assert.False(t, loc.Resolvable())
}

func TestNormalize_NilLocation(t *testing.T) {
	n := NewNormalizer()

	require.NoError(t, n.Normalize(nil))
}
