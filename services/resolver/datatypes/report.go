// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the case resolution
// service: incident reports, locations, resolution results, request and
// response payloads, the error taxonomy, and the Weaviate response parsing
// helpers.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// CreatedAtLayout is the timestamp format accepted on inbound reports.
// The UTC offset is mandatory; a report's date context is its own local time.
const CreatedAtLayout = "2006-01-02 15:04:05 -0700"

// =============================================================================
// Coordinate
// =============================================================================

// Coordinate is a WGS84 point. Valid when |Lat| <= 90 and |Lon| <= 180.
//
// Inbound payloads historically used both "lon" and "long" for the
// longitude field. Both are accepted on unmarshal; the canonical "lon"
// always wins when the two are present and disagree.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// coordinateAlias mirrors Coordinate plus the legacy longitude field.
type coordinateAlias struct {
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Long *float64 `json:"long"`
}

// UnmarshalJSON merges the legacy "long" alias into the canonical "lon"
// field. Precedence: "lon" wins whenever it is present, even when a
// conflicting "long" is also supplied.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var alias coordinateAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	if alias.Lat != nil {
		c.Lat = *alias.Lat
	}
	switch {
	case alias.Lon != nil:
		c.Lon = *alias.Lon
	case alias.Long != nil:
		c.Lon = *alias.Long
	}
	return nil
}

// Valid reports whether the coordinate is inside the WGS84 envelope.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// =============================================================================
// Location
// =============================================================================

// AdminLevel identifies one level of the administrative hierarchy.
type AdminLevel string

const (
	LevelSubdistrict AdminLevel = "subdistrict"
	LevelDistrict    AdminLevel = "district"
	LevelCity        AdminLevel = "city"
	LevelProvince    AdminLevel = "province"
)

// LocationDetails is the canonical location shape for a report.
//
// A report is spatially resolvable when it carries a coordinate or at
// least one administrative identifier (name or code at any level).
// When all signals are absent, similarity filtering degrades to
// category + time only.
type LocationDetails struct {
	// Coordinate is the report's own point, when known.
	Coordinate *Coordinate `json:"coordinate,omitempty"`

	SubdistrictName string `json:"subdistrict_name,omitempty"`
	SubdistrictCode string `json:"subdistrict_code,omitempty"`
	DistrictName    string `json:"district_name,omitempty"`
	DistrictCode    string `json:"district_code,omitempty"`
	CityName        string `json:"city_name,omitempty"`
	CityCode        string `json:"city_code,omitempty"`
	ProvinceName    string `json:"province_name,omitempty"`
	ProvinceCode    string `json:"province_code,omitempty"`

	// Per-level centroids resolved by the upstream geocoder.
	SubdistrictCoordinate *Coordinate `json:"coordinate_subdistrict,omitempty"`
	DistrictCoordinate    *Coordinate `json:"coordinate_district,omitempty"`
	CityCoordinate        *Coordinate `json:"coordinate_city,omitempty"`
	ProvinceCoordinate    *Coordinate `json:"coordinate_province,omitempty"`
	CountryCoordinate     *Coordinate `json:"country_coordinate,omitempty"`

	CountryName  string `json:"country_name,omitempty"`
	CountryCode3 string `json:"country_code3,omitempty"`
	Address      string `json:"address,omitempty"`
	PlaceName    string `json:"name,omitempty"`
	Source       string `json:"source,omitempty"`
}

// HasAdminIdentifier reports whether any administrative name or code is set.
func (l *LocationDetails) HasAdminIdentifier() bool {
	return l.SubdistrictName != "" || l.SubdistrictCode != "" ||
		l.DistrictName != "" || l.DistrictCode != "" ||
		l.CityName != "" || l.CityCode != "" ||
		l.ProvinceName != "" || l.ProvinceCode != ""
}

// Resolvable reports whether the location carries any spatial signal.
func (l *LocationDetails) Resolvable() bool {
	return l.Coordinate != nil || l.HasAdminIdentifier()
}

// =============================================================================
// ReportRecord
// =============================================================================

// ReportRecord is one ingested incident report.
//
// CaseID is assigned by the resolver, never by the caller, and is
// immutable once written. Payload is opaque to the resolution core and
// round-trips through the store untouched.
type ReportRecord struct {
	// DataID uniquely identifies the report. Caller-supplied, or derived
	// from content when absent (see EnsureDataID).
	DataID string `json:"data_id"`

	// Content is the free text the embedding and similarity gate run on.
	Content string `json:"content"`

	// Category is the incident class, e.g. "BOM". Uppercase by convention.
	Category string `json:"category"`

	// CreatedAt carries the report's own UTC offset; the offset defines
	// the report's local date for cluster keying.
	CreatedAt time.Time `json:"created_at"`

	Location LocationDetails `json:"location_details"`

	// CaseID and CaseName are resolver outputs. Empty on ingestion.
	CaseID   string `json:"case_id,omitempty"`
	CaseName string `json:"case_name,omitempty"`

	// Embedding is produced externally; attached before or during resolution.
	Embedding []float32 `json:"-"`

	// Payload holds auxiliary caller data (media refs, reporter info,
	// summaries); treated as opaque by the core.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// ProcessedAt is stamped when the record is persisted.
	ProcessedAt time.Time `json:"processed_at,omitempty"`
}

// Timestamp returns the report's creation time as unix seconds, which is
// how time is stored and range-filtered in the vector store.
func (r *ReportRecord) Timestamp() int64 {
	return r.CreatedAt.Unix()
}

// ContentDigest returns the deterministic digest string used for both
// derived data IDs and the CaseID hash suffix. Identical report content,
// address and creation time always produce the same digest.
func (r *ReportRecord) ContentDigest() string {
	return fmt.Sprintf("%s-%s-%s", r.Content, r.Location.Address, r.CreatedAt.Format(CreatedAtLayout))
}

// EnsureDataID populates DataID from the content digest when the caller
// did not supply one. Returns the (possibly new) DataID.
func (r *ReportRecord) EnsureDataID() string {
	if r.DataID == "" {
		sum := sha256.Sum256([]byte(r.ContentDigest()))
		r.DataID = hex.EncodeToString(sum[:16])
	}
	return r.DataID
}

// =============================================================================
// Resolution result
// =============================================================================

// Resolution is the outcome of resolving one report against the case set.
type Resolution struct {
	// CaseID the report was assigned to.
	CaseID string `json:"case_id"`

	// DataID of the resolved report, derived when the caller sent none.
	DataID string `json:"data_id"`

	// IsNewCase is true when this report minted the case.
	IsNewCase bool `json:"is_new_case"`

	// MatchedScore is the similarity score of the adopted candidate.
	// Zero when IsNewCase is true.
	MatchedScore float64 `json:"matched_score,omitempty"`

	// SimilarCount is the number of candidates at or above the threshold.
	SimilarCount int `json:"similar_count"`

	// DailyIndex is the per-cluster sequence position. Zero unless new.
	DailyIndex int `json:"daily_index,omitempty"`

	// CaseName is the adopted case's name when one already existed.
	// New cases are named asynchronously and may report an empty name.
	CaseName string `json:"case_name,omitempty"`
}
