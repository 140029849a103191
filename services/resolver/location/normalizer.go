// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package location normalizes incoming report locations into a canonical
// form the rest of the resolver can rely on: merged coordinate aliases,
// range-checked latitude/longitude, and whitespace-trimmed names.
package location

import (
	"strings"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

// Normalizer canonicalizes report locations. It is stateless and safe
// for concurrent use; normalizing an already-normalized location is a
// no-op.
type Normalizer struct{}

// NewNormalizer creates a location normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize validates and canonicalizes the given location in place.
//
// # Description
//
// Checks every coordinate present (primary and per-admin-level
// centroids) against valid latitude/longitude ranges and trims
// whitespace from names and codes. A location carrying no coordinate
// and no administrative identifier is fine: downstream filtering then
// narrows by category and time only, and the case ID falls back to the
// unknown-location sentinel. A nil location is treated the same way.
//
// # Outputs
//   - error: *datatypes.InvalidLocationError when a present coordinate
//     is out of range.
func (n *Normalizer) Normalize(loc *datatypes.LocationDetails) error {
	if loc == nil {
		return nil
	}

	trimLocation(loc)

	for _, check := range []struct {
		field string
		coord *datatypes.Coordinate
	}{
		{"coordinate", loc.Coordinate},
		{"coordinate_subdistrict", loc.SubdistrictCoordinate},
		{"coordinate_district", loc.DistrictCoordinate},
		{"coordinate_city", loc.CityCoordinate},
		{"coordinate_province", loc.ProvinceCoordinate},
		{"coordinate_country", loc.CountryCoordinate},
	} {
		if check.coord == nil {
			continue
		}
		if !check.coord.Valid() {
			return &datatypes.InvalidLocationError{
				Field:  check.field,
				Reason: "latitude must be in [-90, 90] and longitude in [-180, 180]",
			}
		}
	}

	return nil
}

// trimLocation strips surrounding whitespace from every textual field.
func trimLocation(loc *datatypes.LocationDetails) {
	loc.SubdistrictName = strings.TrimSpace(loc.SubdistrictName)
	loc.DistrictName = strings.TrimSpace(loc.DistrictName)
	loc.CityName = strings.TrimSpace(loc.CityName)
	loc.ProvinceName = strings.TrimSpace(loc.ProvinceName)
	loc.SubdistrictCode = strings.TrimSpace(loc.SubdistrictCode)
	loc.DistrictCode = strings.TrimSpace(loc.DistrictCode)
	loc.CityCode = strings.TrimSpace(loc.CityCode)
	loc.ProvinceCode = strings.TrimSpace(loc.ProvinceCode)
	loc.Address = strings.TrimSpace(loc.Address)
}
