// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// IncidentReportClass is the Weaviate class holding all report records.
// Case membership is derived by filtering on case_id; there is no
// separate case class.
const IncidentReportClass = "IncidentReport"

// =============================================================================
// Generic GraphQL response parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type. The target type T must have json tags matching the response shape.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName(IncidentReportClass).Do(ctx)
//	parsed, err := ParseGraphQLResponse[IncidentReportQueryResponse](resp)
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// IncidentReport response types
// =============================================================================

// GeoProperty is Weaviate's wire shape for a geoCoordinates property.
type GeoProperty struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IncidentReportQueryResponse is the Get-query response envelope.
type IncidentReportQueryResponse struct {
	Get struct {
		IncidentReport []IncidentReportResult `json:"IncidentReport"`
	} `json:"Get"`
}

// IncidentReportResult is a single report from a query, including the
// search certainty when the query carried a nearVector clause.
type IncidentReportResult struct {
	DataID          string       `json:"data_id"`
	CaseID          string       `json:"case_id"`
	CaseName        string       `json:"case_name"`
	Category        string       `json:"category"`
	Content         string       `json:"content"`
	CreatedAt       string       `json:"created_at"`
	Timestamp       int64        `json:"timestamp"`
	LocationCode    string       `json:"location_code"`
	SubdistrictCode string       `json:"subdistrict_code"`
	DistrictCode    string       `json:"district_code"`
	CityCode        string       `json:"city_code"`
	ProvinceCode    string       `json:"province_code"`
	SubdistrictName string       `json:"subdistrict_name"`
	DistrictName    string       `json:"district_name"`
	CityName        string       `json:"city_name"`
	ProvinceName    string       `json:"province_name"`
	Address         string       `json:"address"`
	Coordinate      *GeoProperty `json:"coordinate"`
	Payload         string       `json:"payload"`
	Additional      struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// ToRecord converts a query result back into a ReportRecord.
func (r *IncidentReportResult) ToRecord() *ReportRecord {
	rec := &ReportRecord{
		DataID:   r.DataID,
		CaseID:   r.CaseID,
		CaseName: r.CaseName,
		Category: r.Category,
		Content:  r.Content,
		Location: LocationDetails{
			SubdistrictCode: r.SubdistrictCode,
			DistrictCode:    r.DistrictCode,
			CityCode:        r.CityCode,
			ProvinceCode:    r.ProvinceCode,
			SubdistrictName: r.SubdistrictName,
			DistrictName:    r.DistrictName,
			CityName:        r.CityName,
			ProvinceName:    r.ProvinceName,
			Address:         r.Address,
		},
	}
	if t, err := time.Parse(CreatedAtLayout, r.CreatedAt); err == nil {
		rec.CreatedAt = t
	} else if r.Timestamp > 0 {
		rec.CreatedAt = time.Unix(r.Timestamp, 0).UTC()
	}
	if r.Coordinate != nil {
		rec.Location.Coordinate = &Coordinate{Lat: r.Coordinate.Latitude, Lon: r.Coordinate.Longitude}
	}
	if r.Payload != "" {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(r.Payload), &payload); err == nil {
			rec.Payload = payload
		}
	}
	return rec
}

// Score returns the search certainty, or zero when the result did not
// come from a vector search.
func (r *IncidentReportResult) Score() float64 {
	if r.Additional.Certainty == nil {
		return 0
	}
	return float64(*r.Additional.Certainty)
}

// =============================================================================
// IncidentReport write properties
// =============================================================================

// IncidentReportProperties maps a ReportRecord onto the Weaviate property
// map used by batch upserts.
//
// LocationCode is the resolved fixed-width code, stored so existing case
// IDs can be recounted when seeding the daily-index counter.
func IncidentReportProperties(rec *ReportRecord, locationCode string) map[string]interface{} {
	props := map[string]interface{}{
		"data_id":       rec.DataID,
		"case_id":       rec.CaseID,
		"case_name":     rec.CaseName,
		"category":      rec.Category,
		"content":       rec.Content,
		"created_at":    rec.CreatedAt.Format(CreatedAtLayout),
		"timestamp":     rec.Timestamp(),
		"location_code": locationCode,
	}

	loc := rec.Location
	if loc.SubdistrictCode != "" {
		props["subdistrict_code"] = loc.SubdistrictCode
	}
	if loc.DistrictCode != "" {
		props["district_code"] = loc.DistrictCode
	}
	if loc.CityCode != "" {
		props["city_code"] = loc.CityCode
	}
	if loc.ProvinceCode != "" {
		props["province_code"] = loc.ProvinceCode
	}
	if loc.SubdistrictName != "" {
		props["subdistrict_name"] = loc.SubdistrictName
	}
	if loc.DistrictName != "" {
		props["district_name"] = loc.DistrictName
	}
	if loc.CityName != "" {
		props["city_name"] = loc.CityName
	}
	if loc.ProvinceName != "" {
		props["province_name"] = loc.ProvinceName
	}
	if loc.Address != "" {
		props["address"] = loc.Address
	}
	if loc.Coordinate != nil {
		props["coordinate"] = geoValue(*loc.Coordinate)
	}
	if loc.SubdistrictCoordinate != nil {
		props["coordinate_subdistrict"] = geoValue(*loc.SubdistrictCoordinate)
	}
	if loc.DistrictCoordinate != nil {
		props["coordinate_district"] = geoValue(*loc.DistrictCoordinate)
	}
	if loc.CityCoordinate != nil {
		props["coordinate_city"] = geoValue(*loc.CityCoordinate)
	}
	if loc.ProvinceCoordinate != nil {
		props["coordinate_province"] = geoValue(*loc.ProvinceCoordinate)
	}
	if loc.CountryCoordinate != nil {
		props["coordinate_country"] = geoValue(*loc.CountryCoordinate)
	}

	if len(rec.Payload) > 0 {
		if payloadJSON, err := json.Marshal(rec.Payload); err == nil {
			props["payload"] = string(payloadJSON)
		}
	}
	if !rec.ProcessedAt.IsZero() {
		props["processed_at"] = rec.ProcessedAt.Format(CreatedAtLayout)
	}
	return props
}

// geoValue formats a coordinate for a geoCoordinates property.
func geoValue(c Coordinate) map[string]interface{} {
	return map[string]interface{}{
		"latitude":  float32(c.Lat),
		"longitude": float32(c.Lon),
	}
}
