// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for case resolution handlers

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
	"github.com/AleutianAI/AleutianCases/services/resolver/engine"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeService struct {
	resolution *datatypes.Resolution
	resolveErr error
	similar    []datatypes.SimilarCase
	similarErr error
	latest     *datatypes.ReportRecord
	latestErr  error
	reports    []*datatypes.ReportRecord
	reportsErr error

	lastResolve *datatypes.ResolveCaseRequest
}

func (f *fakeService) Resolve(ctx context.Context, req *datatypes.ResolveCaseRequest) (*datatypes.Resolution, error) {
	f.lastResolve = req
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.resolution, nil
}

func (f *fakeService) SimilarCases(ctx context.Context, query string, req *datatypes.ResolveCaseRequest) ([]datatypes.SimilarCase, error) {
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return f.similar, nil
}

func (f *fakeService) LatestReport(ctx context.Context, req *datatypes.LatestReportRequest) (*datatypes.ReportRecord, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeService) CaseReports(ctx context.Context, caseID string, limit, offset int) ([]*datatypes.ReportRecord, error) {
	if f.reportsErr != nil {
		return nil, f.reportsErr
	}
	return f.reports, nil
}

func (f *fakeService) CurrentTunables() engine.Tunables {
	return engine.Tunables{
		ScoreThreshold: datatypes.DefaultScoreThreshold,
		RadiusMeters:   datatypes.DefaultRadiusMeters,
		SearchLimit:    datatypes.DefaultSearchLimit,
	}
}

func resolveBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(datatypes.ResolveCaseRequest{
		Data: datatypes.ReportPayload{
			ID:        "rpt-001",
			Input:     "Ledakan di dekat stasiun",
			CreatedAt: "2025-03-14 09:15:00 +0700",
		},
		ReportType: "BOM",
	})
	require.NoError(t, err)
	return body
}

// =============================================================================
// ResolveCase Tests
// =============================================================================

func TestResolveCase_InvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{}

	router := gin.New()
	router.POST("/v1/cases/resolve", ResolveCase(svc, svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/cases/resolve", bytes.NewReader([]byte("{invalid json")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response datatypes.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "validation", response.Kind)
}

func TestResolveCase_NewCase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{
		resolution: &datatypes.Resolution{
			CaseID:     "BOM-PNDKRN-20250314-01-9A3F",
			DataID:     "rpt-001",
			IsNewCase:  true,
			DailyIndex: 1,
		},
	}

	router := gin.New()
	router.POST("/v1/cases/resolve", ResolveCase(svc, svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/cases/resolve", bytes.NewReader(resolveBody(t)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response datatypes.ResolveCaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "success", response.Status)
	assert.Equal(t, "new case created", response.Message)
	assert.Equal(t, "BOM-PNDKRN-20250314-01-9A3F", response.CaseID)
	assert.True(t, response.IsNewCase)
	assert.Equal(t, datatypes.DefaultScoreThreshold, response.ScoreThreshold)
	assert.Equal(t, datatypes.DefaultRadiusMeters, response.RadiusMeters)
}

func TestResolveCase_LinkedCase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{
		resolution: &datatypes.Resolution{
			CaseID:       "BOM-PNDKRN-20250314-01-9A3F",
			DataID:       "rpt-002",
			IsNewCase:    false,
			MatchedScore: 0.93,
			SimilarCount: 2,
		},
	}

	router := gin.New()
	router.POST("/v1/cases/resolve", ResolveCase(svc, svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/cases/resolve", bytes.NewReader(resolveBody(t)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response datatypes.ResolveCaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "report linked to existing case", response.Message)
	assert.False(t, response.IsNewCase)
	assert.InDelta(t, 0.93, response.MatchedScore, 1e-9)
}

func TestResolveCase_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{
			name:     "validation",
			err:      &datatypes.ValidationError{Reason: "data.input is required"},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "invalid location",
			err:      &datatypes.InvalidLocationError{Field: "coordinate", Reason: "latitude out of range"},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: "invalid_location",
		},
		{
			name:     "cluster busy",
			err:      &datatypes.ClusterBusyError{ClusterKey: "BOM-PNDKRN-20250314"},
			wantCode: http.StatusServiceUnavailable,
			wantKind: "cluster_busy",
		},
		{
			name:     "search unavailable",
			err:      &datatypes.SearchUnavailableError{Err: errors.New("connection refused")},
			wantCode: http.StatusServiceUnavailable,
			wantKind: "search_unavailable",
		},
		{
			name:     "persistence failed",
			err:      &datatypes.PersistenceFailedError{DataID: "rpt-001", Err: errors.New("batch rejected")},
			wantCode: http.StatusInternalServerError,
			wantKind: "persistence_failed",
		},
		{
			name:     "unexpected",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantKind: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			svc := &fakeService{resolveErr: tt.err}

			router := gin.New()
			router.POST("/v1/cases/resolve", ResolveCase(svc, svc))

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/v1/cases/resolve", bytes.NewReader(resolveBody(t)))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)

			var response datatypes.ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &response)
			assert.Equal(t, tt.wantKind, response.Kind)
		})
	}
}

func TestResolveCase_ClusterBusySetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{resolveErr: &datatypes.ClusterBusyError{ClusterKey: "BOM-PNDKRN-20250314"}}

	router := gin.New()
	router.POST("/v1/cases/resolve", ResolveCase(svc, svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/cases/resolve", bytes.NewReader(resolveBody(t)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

// =============================================================================
// ResolveCaseAsync Tests
// =============================================================================

func TestResolveCaseAsync_Accepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{
		resolution: &datatypes.Resolution{CaseID: "BOM-PNDKRN-20250314-01-9A3F"},
	}

	router := gin.New()
	router.POST("/v1/cases/resolve/async", ResolveCaseAsync(svc, svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/cases/resolve/async", bytes.NewReader(resolveBody(t)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var response datatypes.ResolveCaseAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "accepted", response.Status)
	assert.NotEmpty(t, response.TaskID)
}

func TestResolveCaseAsync_InvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{}

	router := gin.New()
	router.POST("/v1/cases/resolve/async", ResolveCaseAsync(svc, svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/cases/resolve/async", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// SimilarCases Tests
// =============================================================================

func TestSimilarCases_RequiresQueryAndCreatedAt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{}

	router := gin.New()
	router.GET("/v1/cases/similar", SimilarCases(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/cases/similar?q=ledakan", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSimilarCases_ReturnsResults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{
		similar: []datatypes.SimilarCase{
			{Score: 0.91, Record: &datatypes.ReportRecord{CaseID: "BOM-PNDKRN-20250314-01-9A3F"}},
		},
	}

	router := gin.New()
	router.GET("/v1/cases/similar", SimilarCases(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET",
		"/v1/cases/similar?q=ledakan&created_at=2025-03-14+09%3A15%3A00+%2B0700&threshold=0.8", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(1), response["count"])
}

// =============================================================================
// LatestReport Tests
// =============================================================================

func TestLatestReport_RequiresCaseID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{}

	router := gin.New()
	router.POST("/v1/reports/latest", LatestReport(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/reports/latest", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLatestReport_Found(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{
		latest: &datatypes.ReportRecord{
			DataID: "rpt-001",
			CaseID: "BOM-PNDKRN-20250314-01-9A3F",
		},
	}

	body, _ := json.Marshal(datatypes.LatestReportRequest{CaseID: "BOM-PNDKRN-20250314-01-9A3F"})

	router := gin.New()
	router.POST("/v1/reports/latest", LatestReport(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/reports/latest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response datatypes.LatestReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.ReportsFound)
	require.NotNil(t, response.LatestReport)
	assert.Equal(t, "rpt-001", response.LatestReport.DataID)
}

func TestLatestReport_NoneFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{latest: nil}

	body, _ := json.Marshal(datatypes.LatestReportRequest{CaseID: "BOM-PNDKRN-20250314-09-FFFF"})

	router := gin.New()
	router.POST("/v1/reports/latest", LatestReport(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/reports/latest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response datatypes.LatestReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 0, response.ReportsFound)
	assert.Nil(t, response.LatestReport)
}

// =============================================================================
// CaseReports Tests
// =============================================================================

func TestCaseReports_ReturnsReports(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{
		reports: []*datatypes.ReportRecord{
			{DataID: "rpt-002", CaseID: "BOM-PNDKRN-20250314-01-9A3F"},
			{DataID: "rpt-001", CaseID: "BOM-PNDKRN-20250314-01-9A3F"},
		},
	}

	router := gin.New()
	router.GET("/v1/cases/:case_id/reports", CaseReports(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/cases/BOM-PNDKRN-20250314-01-9A3F/reports?limit=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(2), response["count"])
	assert.Equal(t, "BOM-PNDKRN-20250314-01-9A3F", response["case_id"])
}

func TestCaseReports_StoreUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{
		reportsErr: &datatypes.SearchUnavailableError{Err: errors.New("connection refused")},
	}

	router := gin.New()
	router.GET("/v1/cases/:case_id/reports", CaseReports(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/cases/BOM-PNDKRN-20250314-01-9A3F/reports", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
