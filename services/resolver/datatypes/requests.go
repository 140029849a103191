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
	"fmt"
	"time"
)

// Resolution tunables and their service-wide defaults. The per-request
// values override the service defaults, which may themselves be
// hot-reloaded from the config file.
const (
	// DefaultScoreThreshold is the minimum similarity for linking a
	// report to an existing case. The bound is inclusive.
	DefaultScoreThreshold = 0.85

	// DefaultSearchLimit caps candidates returned by the similarity gate.
	DefaultSearchLimit = 5

	// DefaultRadiusMeters is the geo radius around the report coordinate.
	DefaultRadiusMeters = 500.0

	// DefaultCategory is assumed when the caller omits the report type.
	DefaultCategory = "BOM"

	// DefaultWindow is the half-width of the implicit time window applied
	// when the caller gives no explicit bounds: created_at ± 24h.
	DefaultWindow = 24 * time.Hour
)

// =============================================================================
// ResolveCaseRequest
// =============================================================================

// ReportPayload is the caller-facing report shape for resolution requests.
type ReportPayload struct {
	// ID is the caller-assigned report identifier. Optional; derived
	// from content when absent.
	ID string `json:"id,omitempty"`

	// Input is the free text to resolve on.
	Input string `json:"input" binding:"required"`

	// CreatedAt in CreatedAtLayout format; the UTC offset is mandatory.
	CreatedAt string `json:"created_at" binding:"required,reporttime"`

	// LocationDetails is the structured location block.
	LocationDetails *LocationDetails `json:"location_details,omitempty"`

	// Coordinate is the legacy top-level [lon, lat] pair, honored only
	// when location_details carries no coordinate of its own.
	Coordinate []float64 `json:"coordinate,omitempty"`

	// Auxiliary fields carried through as opaque payload.
	Summary    string                   `json:"summary,omitempty"`
	RawMessage string                   `json:"raw_message,omitempty"`
	Sketch     string                   `json:"sketch,omitempty"`
	Images     []map[string]interface{} `json:"images,omitempty"`
	Audios     []map[string]interface{} `json:"audios,omitempty"`
	Videos     []map[string]interface{} `json:"videos,omitempty"`
	Files      []map[string]interface{} `json:"files,omitempty"`
	FirstName  string                   `json:"first_name,omitempty"`
	Username   string                   `json:"username,omitempty"`
}

// ResolveCaseRequest asks the service to resolve one report into a case.
type ResolveCaseRequest struct {
	Data ReportPayload `json:"data" binding:"required"`

	// ReportType is the incident category. Defaults to DefaultCategory.
	ReportType string `json:"report_type,omitempty"`

	// ScoreThreshold in [0,1]. Absent means "use the service default";
	// an explicit 0 disables the similarity cutoff.
	ScoreThreshold *float64 `json:"score_threshold,omitempty" binding:"omitempty,gte=0,lte=1"`

	// Limit caps similarity candidates. Zero means the service default.
	Limit int `json:"limit,omitempty" binding:"omitempty,gte=1,lte=100"`

	// RadiusMeters for the coordinate geo clause. Zero means default.
	RadiusMeters float64 `json:"radius_coordinate,omitempty" binding:"omitempty,gt=0"`

	// WindowStart and WindowEnd bound the similarity time window, in
	// CreatedAtLayout format. Both optional; when absent the window is
	// created_at ± DefaultWindow.
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
}

// EnsureDefaults fills absent tunables from the given service defaults.
// Call before Validate.
func (r *ResolveCaseRequest) EnsureDefaults(threshold, radius float64, limit int) {
	if r.ReportType == "" {
		r.ReportType = DefaultCategory
	}
	if r.ScoreThreshold == nil {
		r.ScoreThreshold = &threshold
	}
	if r.Limit == 0 {
		r.Limit = limit
	}
	if r.RadiusMeters == 0 {
		r.RadiusMeters = radius
	}
}

// Threshold returns the effective score threshold, falling back to the
// package default when EnsureDefaults has not run yet.
func (r *ResolveCaseRequest) Threshold() float64 {
	if r.ScoreThreshold == nil {
		return DefaultScoreThreshold
	}
	return *r.ScoreThreshold
}

// Validate checks cross-field rules the binding tags cannot express.
func (r *ResolveCaseRequest) Validate() error {
	if r.Data.Input == "" {
		return fmt.Errorf("data.input is required")
	}
	if _, err := time.Parse(CreatedAtLayout, r.Data.CreatedAt); err != nil {
		return fmt.Errorf("data.created_at must be in format %q: %w", CreatedAtLayout, err)
	}
	if r.WindowStart != "" {
		if _, err := time.Parse(CreatedAtLayout, r.WindowStart); err != nil {
			return fmt.Errorf("window_start must be in format %q: %w", CreatedAtLayout, err)
		}
	}
	if r.WindowEnd != "" {
		if _, err := time.Parse(CreatedAtLayout, r.WindowEnd); err != nil {
			return fmt.Errorf("window_end must be in format %q: %w", CreatedAtLayout, err)
		}
	}
	return nil
}

// ToRecord converts the request payload into a ReportRecord ready for
// resolution. Validate must have succeeded first.
func (r *ResolveCaseRequest) ToRecord() *ReportRecord {
	createdAt, _ := time.Parse(CreatedAtLayout, r.Data.CreatedAt)

	rec := &ReportRecord{
		DataID:    r.Data.ID,
		Content:   r.Data.Input,
		Category:  r.ReportType,
		CreatedAt: createdAt,
	}
	if r.Data.LocationDetails != nil {
		rec.Location = *r.Data.LocationDetails
	}
	// Legacy top-level coordinate is [lon, lat]; location_details wins.
	if rec.Location.Coordinate == nil && len(r.Data.Coordinate) == 2 {
		rec.Location.Coordinate = &Coordinate{Lon: r.Data.Coordinate[0], Lat: r.Data.Coordinate[1]}
	}

	payload := map[string]interface{}{}
	if r.Data.Summary != "" {
		payload["summary"] = r.Data.Summary
	}
	if r.Data.RawMessage != "" {
		payload["raw_message"] = r.Data.RawMessage
	}
	if r.Data.Sketch != "" {
		payload["sketch"] = r.Data.Sketch
	}
	if len(r.Data.Images) > 0 {
		payload["images"] = r.Data.Images
	}
	if len(r.Data.Audios) > 0 {
		payload["audios"] = r.Data.Audios
	}
	if len(r.Data.Videos) > 0 {
		payload["videos"] = r.Data.Videos
	}
	if len(r.Data.Files) > 0 {
		payload["files"] = r.Data.Files
	}
	if r.Data.FirstName != "" {
		payload["first_name"] = r.Data.FirstName
	}
	if r.Data.Username != "" {
		payload["username"] = r.Data.Username
	}
	if len(payload) > 0 {
		rec.Payload = payload
	}
	return rec
}

// Window returns the effective time window for the request, anchored on
// the report's creation time when no explicit bounds were supplied. The
// end bound is nil when open-ended.
func (r *ResolveCaseRequest) Window() (time.Time, *time.Time) {
	createdAt, _ := time.Parse(CreatedAtLayout, r.Data.CreatedAt)

	if r.WindowStart == "" && r.WindowEnd == "" {
		start := createdAt.Add(-DefaultWindow)
		end := createdAt.Add(DefaultWindow)
		return start, &end
	}

	start := createdAt.Add(-DefaultWindow)
	if r.WindowStart != "" {
		start, _ = time.Parse(CreatedAtLayout, r.WindowStart)
	}
	var end *time.Time
	if r.WindowEnd != "" {
		e, _ := time.Parse(CreatedAtLayout, r.WindowEnd)
		end = &e
	}
	return start, end
}

// =============================================================================
// Responses
// =============================================================================

// ResolveCaseResponse is the synchronous resolution response.
type ResolveCaseResponse struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	CaseID         string  `json:"case_id"`
	DataID         string  `json:"data_id"`
	CaseName       string  `json:"case_name,omitempty"`
	IsNewCase      bool    `json:"is_new_case"`
	SimilarCount   int     `json:"similar_cases_count"`
	MatchedScore   float64 `json:"matched_score,omitempty"`
	ScoreThreshold float64 `json:"score_threshold"`
	RadiusMeters   float64 `json:"radius_coordinate"`
	ProcessingSecs float64 `json:"processing_time"`
}

// ResolveCaseAccepted is returned by the async endpoint.
type ResolveCaseAccepted struct {
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	TaskID         string  `json:"task_id"`
	ScoreThreshold float64 `json:"score_threshold"`
	RadiusMeters   float64 `json:"radius_coordinate"`
}

// SimilarCase is one candidate from the raw similarity endpoint.
type SimilarCase struct {
	Score  float64       `json:"similarity_score"`
	Record *ReportRecord `json:"record"`
}

// LatestReportRequest fetches the newest report of a case.
type LatestReportRequest struct {
	CaseID    string `json:"case_id" binding:"required"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Limit     int    `json:"limit,omitempty" binding:"omitempty,gte=1,lte=1000"`
}

// Validate checks the optional time bounds.
func (r *LatestReportRequest) Validate() error {
	if r.StartTime != "" {
		if _, err := time.Parse(CreatedAtLayout, r.StartTime); err != nil {
			return fmt.Errorf("start_time must be in format %q: %w", CreatedAtLayout, err)
		}
	}
	if r.EndTime != "" {
		if _, err := time.Parse(CreatedAtLayout, r.EndTime); err != nil {
			return fmt.Errorf("end_time must be in format %q: %w", CreatedAtLayout, err)
		}
	}
	return nil
}

// LatestReportResponse wraps the newest report of a case.
type LatestReportResponse struct {
	Status       string            `json:"status"`
	CaseID       string            `json:"case_id"`
	ReportsFound int               `json:"reports_found"`
	LatestReport *ReportRecord     `json:"latest_report,omitempty"`
	TimeRange    map[string]string `json:"query_time_range,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
