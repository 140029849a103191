// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search builds candidate filters and applies the similarity
// gate that decides whether a report joins an existing case.
package search

import (
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

// Per-level geo radii for administrative centroids. The primary report
// coordinate uses the builder's configured radius; each broader level
// widens with the area it stands for.
const (
	DistrictRadiusMeters = 10000.0
	CityRadiusMeters     = 15000.0
	ProvinceRadiusMeters = 20000.0
)

// FilterBuilder translates a report's category, location, and time
// window into a Weaviate where-filter. Location clauses are combined
// with OR (a candidate matches if it is near the coordinate OR shares
// an administrative area), then ANDed with the category and time-range
// clauses.
type FilterBuilder struct {
	radiusMeters float64
}

// NewFilterBuilder creates a filter builder with the given geo radius
// in meters.
func NewFilterBuilder(radiusMeters float64) *FilterBuilder {
	if radiusMeters <= 0 {
		radiusMeters = datatypes.DefaultRadiusMeters
	}
	return &FilterBuilder{radiusMeters: radiusMeters}
}

// Build assembles the candidate filter.
//
// # Description
//
// The filter always carries the category clause and the time-window
// clause. Location clauses are added when the location offers them:
// a geo-radius clause around the primary coordinate, and equality
// clauses on each administrative code (or name, when the code is
// absent at that level). A location with no usable clause degrades to
// category-plus-window only.
//
// # Inputs
//   - category: report category, e.g. "BOM". Required.
//   - loc: normalized location; may offer zero location clauses.
//   - since: window start, inclusive.
//   - until: window end, inclusive; nil means open-ended.
func (b *FilterBuilder) Build(
	category string,
	loc *datatypes.LocationDetails,
	since time.Time,
	until *time.Time,
) *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueString(category),
		filters.Where().
			WithPath([]string{"timestamp"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueInt(since.Unix()),
	}
	if until != nil {
		operands = append(operands, filters.Where().
			WithPath([]string{"timestamp"}).
			WithOperator(filters.LessThanEqual).
			WithValueInt(until.Unix()))
	}

	if locClauses := b.locationClauses(loc); len(locClauses) > 0 {
		if len(locClauses) == 1 {
			operands = append(operands, locClauses[0])
		} else {
			operands = append(operands, filters.Where().
				WithOperator(filters.Or).
				WithOperands(locClauses))
		}
	}

	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}

// locationClauses returns the OR-able location clauses for a location.
func (b *FilterBuilder) locationClauses(loc *datatypes.LocationDetails) []*filters.WhereBuilder {
	if loc == nil {
		return nil
	}

	var clauses []*filters.WhereBuilder
	if loc.Coordinate != nil {
		clauses = append(clauses, geoClause("coordinate", *loc.Coordinate, b.radiusMeters))
	}

	// Administrative centroids carry level-appropriate radii; a
	// candidate anywhere inside the same district still qualifies.
	for _, centroid := range []struct {
		path   string
		coord  *datatypes.Coordinate
		radius float64
	}{
		{"coordinate_district", loc.DistrictCoordinate, DistrictRadiusMeters},
		{"coordinate_city", loc.CityCoordinate, CityRadiusMeters},
		{"coordinate_province", loc.ProvinceCoordinate, ProvinceRadiusMeters},
	} {
		if centroid.coord != nil {
			clauses = append(clauses, geoClause(centroid.path, *centroid.coord, centroid.radius))
		}
	}

	// Most specific level first; code wins over name at each level.
	for _, level := range []struct {
		codePath, namePath string
		code, name         string
	}{
		{"subdistrict_code", "subdistrict_name", loc.SubdistrictCode, loc.SubdistrictName},
		{"district_code", "district_name", loc.DistrictCode, loc.DistrictName},
		{"city_code", "city_name", loc.CityCode, loc.CityName},
		{"province_code", "province_name", loc.ProvinceCode, loc.ProvinceName},
	} {
		switch {
		case level.code != "":
			clauses = append(clauses, filters.Where().
				WithPath([]string{level.codePath}).
				WithOperator(filters.Equal).
				WithValueString(level.code))
		case level.name != "":
			clauses = append(clauses, filters.Where().
				WithPath([]string{level.namePath}).
				WithOperator(filters.Equal).
				WithValueString(level.name))
		}
	}
	return clauses
}

// geoClause builds one WithinGeoRange clause.
func geoClause(path string, c datatypes.Coordinate, radiusMeters float64) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.WithinGeoRange).
		WithValueGeoRange(&filters.GeoCoordinatesParameter{
			Latitude:    float32(c.Lat),
			Longitude:   float32(c.Lon),
			MaxDistance: float32(radiusMeters),
		})
}
