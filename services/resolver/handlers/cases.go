// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers maps the case resolution engine onto HTTP.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
	"github.com/AleutianAI/AleutianCases/services/resolver/engine"
)

// asyncTimeout bounds one background resolution.
const asyncTimeout = 2 * time.Minute

// CaseResolver is the resolution surface the handlers call.
type CaseResolver interface {
	Resolve(ctx context.Context, req *datatypes.ResolveCaseRequest) (*datatypes.Resolution, error)
}

// SimilaritySearcher runs raw similarity queries for the read-only
// endpoint.
type SimilaritySearcher interface {
	SimilarCases(ctx context.Context, query string, req *datatypes.ResolveCaseRequest) ([]datatypes.SimilarCase, error)
}

// LatestReporter answers latest-report queries.
type LatestReporter interface {
	LatestReport(ctx context.Context, req *datatypes.LatestReportRequest) (*datatypes.ReportRecord, error)
}

// CaseReportLister pages through the reports attached to a case.
type CaseReportLister interface {
	CaseReports(ctx context.Context, caseID string, limit, offset int) ([]*datatypes.ReportRecord, error)
}

// TunablesSource exposes the current effective tunables for response
// echoing.
type TunablesSource interface {
	CurrentTunables() engine.Tunables
}

// ResolveCase handles POST /v1/cases/resolve.
func ResolveCase(resolver CaseResolver, tunables TunablesSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResolveCaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Status:  "error",
				Message: "invalid request body: " + err.Error(),
				Kind:    "validation",
			})
			return
		}

		started := time.Now()
		resolution, err := resolver.Resolve(c.Request.Context(), &req)
		if err != nil {
			writeResolutionError(c, err)
			return
		}

		t := tunables.CurrentTunables()
		message := "report linked to existing case"
		if resolution.IsNewCase {
			message = "new case created"
		}
		c.JSON(http.StatusOK, datatypes.ResolveCaseResponse{
			Status:         "success",
			Message:        message,
			CaseID:         resolution.CaseID,
			DataID:         resolution.DataID,
			CaseName:       resolution.CaseName,
			IsNewCase:      resolution.IsNewCase,
			SimilarCount:   resolution.SimilarCount,
			MatchedScore:   resolution.MatchedScore,
			ScoreThreshold: thresholdOr(req.ScoreThreshold, t.ScoreThreshold),
			RadiusMeters:   orDefault(req.RadiusMeters, t.RadiusMeters),
			ProcessingSecs: time.Since(started).Seconds(),
		})
	}
}

// ResolveCaseAsync handles POST /v1/cases/resolve/async. The request is
// validated for shape, then resolved in the background.
func ResolveCaseAsync(resolver CaseResolver, tunables TunablesSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResolveCaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Status:  "error",
				Message: "invalid request body: " + err.Error(),
				Kind:    "validation",
			})
			return
		}

		taskID := uuid.NewString()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
			defer cancel()

			resolution, err := resolver.Resolve(ctx, &req)
			if err != nil {
				slog.Error("background resolution failed",
					"task_id", taskID,
					"error", err)
				return
			}
			slog.Info("background resolution finished",
				"task_id", taskID,
				"case_id", resolution.CaseID,
				"is_new_case", resolution.IsNewCase)
		}()

		t := tunables.CurrentTunables()
		c.JSON(http.StatusAccepted, datatypes.ResolveCaseAccepted{
			Status:         "accepted",
			Message:        "report accepted for background resolution",
			TaskID:         taskID,
			ScoreThreshold: thresholdOr(req.ScoreThreshold, t.ScoreThreshold),
			RadiusMeters:   orDefault(req.RadiusMeters, t.RadiusMeters),
		})
	}
}

// SimilarCases handles GET /v1/cases/similar. Query parameters:
// q (required), created_at (required), threshold, limit, lat, lon,
// district, city.
func SimilarCases(searcher SimilaritySearcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		createdAt := c.Query("created_at")
		if query == "" || createdAt == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Status:  "error",
				Message: "q and created_at query parameters are required",
				Kind:    "validation",
			})
			return
		}

		req := &datatypes.ResolveCaseRequest{
			Data: datatypes.ReportPayload{
				Input:     query,
				CreatedAt: createdAt,
			},
			ReportType: c.DefaultQuery("report_type", datatypes.DefaultCategory),
		}
		if v, err := strconv.ParseFloat(c.Query("threshold"), 64); err == nil {
			req.ScoreThreshold = &v
		}
		if v, err := strconv.Atoi(c.Query("limit")); err == nil {
			req.Limit = v
		}

		loc := &datatypes.LocationDetails{
			DistrictName: c.Query("district"),
			CityName:     c.Query("city"),
		}
		lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
		lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
		if latErr == nil && lonErr == nil {
			loc.Coordinate = &datatypes.Coordinate{Lat: lat, Lon: lon}
		}
		if loc.Resolvable() {
			req.Data.LocationDetails = loc
		}

		similar, err := searcher.SimilarCases(c.Request.Context(), query, req)
		if err != nil {
			writeResolutionError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"count":   len(similar),
			"results": similar,
		})
	}
}

// LatestReport handles POST /v1/reports/latest.
func LatestReport(reporter LatestReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LatestReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Status:  "error",
				Message: "invalid request body: " + err.Error(),
				Kind:    "validation",
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Status:  "error",
				Message: err.Error(),
				Kind:    "validation",
			})
			return
		}

		latest, err := reporter.LatestReport(c.Request.Context(), &req)
		if err != nil {
			writeResolutionError(c, err)
			return
		}

		resp := datatypes.LatestReportResponse{
			Status: "success",
			CaseID: req.CaseID,
		}
		if latest != nil {
			resp.ReportsFound = 1
			resp.LatestReport = latest
		}
		if req.StartTime != "" || req.EndTime != "" {
			resp.TimeRange = map[string]string{
				"start": req.StartTime,
				"end":   req.EndTime,
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// CaseReports handles GET /v1/cases/:case_id/reports. Query
// parameters: limit, offset.
func CaseReports(lister CaseReportLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		caseID := c.Param("case_id")

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		reports, err := lister.CaseReports(c.Request.Context(), caseID, limit, offset)
		if err != nil {
			writeResolutionError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"case_id": caseID,
			"count":   len(reports),
			"reports": reports,
		})
	}
}

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeResolutionError maps the engine's typed errors onto HTTP.
func writeResolutionError(c *gin.Context, err error) {
	switch {
	case datatypes.IsValidation(err):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Status: "error", Message: err.Error(), Kind: "validation",
		})
	case datatypes.IsInvalidLocation(err):
		c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
			Status: "error", Message: err.Error(), Kind: "invalid_location",
		})
	case datatypes.IsClusterBusy(err):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{
			Status: "error", Message: err.Error(), Kind: "cluster_busy",
		})
	case datatypes.IsSearchUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{
			Status: "error", Message: err.Error(), Kind: "search_unavailable",
		})
	case datatypes.IsPersistenceFailed(err):
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Status: "error", Message: err.Error(), Kind: "persistence_failed",
		})
	default:
		slog.Error("unexpected resolution error", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Status: "error", Message: "internal error", Kind: "internal",
		})
	}
}

// orDefault returns v unless it is zero.
func orDefault(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

// thresholdOr returns the caller's threshold when present, even when it
// is an explicit zero.
func thresholdOr(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
