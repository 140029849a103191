// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists incident reports in Weaviate and answers the
// similarity and case-membership queries the resolver runs. All calls
// retry with exponential backoff and jitter before surfacing a typed
// error.
package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
	"github.com/AleutianAI/AleutianCases/services/resolver/search"
)

var tracer = otel.Tracer("aleutian.cases.store")

// maxIndexScan caps how many case IDs one cluster is scanned for when
// seeding the daily-index counter.
const maxIndexScan = 1000

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Weaviate-backed report store.
type Config struct {
	// Host is the Weaviate host:port, e.g. "localhost:8080".
	Host string

	// Scheme is "http" or "https". Default: "http".
	Scheme string

	// APIKey enables API-key auth when non-empty.
	APIKey string

	// RetryAttempts is the number of retries after the first failure.
	// Default: 3.
	RetryAttempts int

	// RetryBackoff is the initial backoff between retries. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5s.
	MaxRetryBackoff time.Duration

	// RetryJitter adds randomness to backoff (0.0-1.0). Default: 0.25.
	RetryJitter float64
}

// applyConfigDefaults fills zero values with production defaults.
func applyConfigDefaults(cfg *Config) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	if cfg.RetryJitter <= 0 {
		cfg.RetryJitter = 0.25
	}
}

// =============================================================================
// Store
// =============================================================================

// WeaviateStore is the production report store.
type WeaviateStore struct {
	client *weaviate.Client
	cfg    Config
}

// NewWeaviateStore connects to Weaviate and returns a store.
func NewWeaviateStore(cfg Config) (*WeaviateStore, error) {
	applyConfigDefaults(&cfg)
	if cfg.Host == "" {
		return nil, errors.New("weaviate host is required")
	}

	wvConfig := weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	}
	if cfg.APIKey != "" {
		wvConfig.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(wvConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return &WeaviateStore{client: client, cfg: cfg}, nil
}

// reportFields lists every stored property plus the search additionals.
var reportFields = []graphql.Field{
	{Name: "data_id"},
	{Name: "case_id"},
	{Name: "case_name"},
	{Name: "category"},
	{Name: "content"},
	{Name: "created_at"},
	{Name: "timestamp"},
	{Name: "location_code"},
	{Name: "subdistrict_code"},
	{Name: "district_code"},
	{Name: "city_code"},
	{Name: "province_code"},
	{Name: "subdistrict_name"},
	{Name: "district_name"},
	{Name: "city_name"},
	{Name: "province_name"},
	{Name: "address"},
	{Name: "coordinate", Fields: []graphql.Field{
		{Name: "latitude"},
		{Name: "longitude"},
	}},
	{Name: "payload"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

// Search runs a filtered vector search and returns the scored matches.
//
// # Description
//
// The certainty threshold is applied server-side by the nearVector
// clause; Weaviate's certainty comparison is inclusive, so a candidate
// at exactly the threshold comes back. Results arrive sorted by
// certainty descending.
//
// # Outputs
//   - []search.Match: scored candidates; empty when nothing qualifies.
//   - error: *datatypes.SearchUnavailableError when Weaviate cannot be
//     reached after retries.
func (s *WeaviateStore) Search(
	ctx context.Context,
	vector []float32,
	where *filters.WhereBuilder,
	threshold float64,
	limit int,
) ([]search.Match, error) {
	ctx, span := tracer.Start(ctx, "store.Search",
		trace.WithAttributes(
			attribute.Float64("threshold", threshold),
			attribute.Int("limit", limit),
		))
	defer span.End()

	if limit <= 0 {
		limit = datatypes.DefaultSearchLimit
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(threshold))

	var resp *models.GraphQLResponse
	err := s.execute(ctx, "search", func() error {
		var execErr error
		query := s.client.GraphQL().Get().
			WithClassName(datatypes.IncidentReportClass).
			WithFields(reportFields...).
			WithNearVector(nearVector).
			WithLimit(limit)
		if where != nil {
			query = query.WithWhere(where)
		}
		resp, execErr = query.Do(ctx)
		if execErr != nil {
			return execErr
		}
		return graphQLErrors(resp)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.IncidentReportQueryResponse](resp)
	if err != nil {
		span.RecordError(err)
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	matches := make([]search.Match, 0, len(parsed.Get.IncidentReport))
	for i := range parsed.Get.IncidentReport {
		result := &parsed.Get.IncidentReport[i]
		matches = append(matches, search.Match{
			Record: result.ToRecord(),
			Score:  result.Score(),
		})
	}

	span.SetAttributes(attribute.Int("matches", len(matches)))
	span.SetStatus(codes.Ok, "search complete")
	return matches, nil
}

// Upsert writes a report, overwriting any existing object with the same
// data ID. The object ID is derived from the data ID, so replays
// converge on the same stored object.
func (s *WeaviateStore) Upsert(ctx context.Context, rec *datatypes.ReportRecord, locationCode string) error {
	ctx, span := tracer.Start(ctx, "store.Upsert",
		trace.WithAttributes(
			attribute.String("data_id", rec.DataID),
			attribute.String("case_id", rec.CaseID),
		))
	defer span.End()

	obj := &models.Object{
		Class:      datatypes.IncidentReportClass,
		ID:         ObjectID(rec.DataID),
		Vector:     rec.Embedding,
		Properties: datatypes.IncidentReportProperties(rec, locationCode),
	}

	err := s.execute(ctx, "upsert", func() error {
		resp, execErr := s.client.Batch().ObjectsBatcher().
			WithObjects(obj).
			Do(ctx)
		if execErr != nil {
			return execErr
		}
		return batchErrors(resp)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return &datatypes.PersistenceFailedError{DataID: rec.DataID, Err: err}
	}

	span.SetStatus(codes.Ok, "upsert complete")
	return nil
}

// ReportsByCase pages through the reports linked to a case, newest
// first.
func (s *WeaviateStore) ReportsByCase(ctx context.Context, caseID string, limit, offset int) ([]*datatypes.ReportRecord, error) {
	ctx, span := tracer.Start(ctx, "store.ReportsByCase",
		trace.WithAttributes(attribute.String("case_id", caseID)))
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	where := filters.Where().
		WithPath([]string{"case_id"}).
		WithOperator(filters.Equal).
		WithValueString(caseID)

	var resp *models.GraphQLResponse
	err := s.execute(ctx, "reports_by_case", func() error {
		var execErr error
		resp, execErr = s.client.GraphQL().Get().
			WithClassName(datatypes.IncidentReportClass).
			WithFields(reportFields...).
			WithWhere(where).
			WithSort(graphql.Sort{Path: []string{"timestamp"}, Order: graphql.Desc}).
			WithLimit(limit).
			WithOffset(offset).
			Do(ctx)
		if execErr != nil {
			return execErr
		}
		return graphQLErrors(resp)
	})
	if err != nil {
		span.RecordError(err)
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.IncidentReportQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	records := make([]*datatypes.ReportRecord, 0, len(parsed.Get.IncidentReport))
	for i := range parsed.Get.IncidentReport {
		records = append(records, parsed.Get.IncidentReport[i].ToRecord())
	}
	span.SetAttributes(attribute.Int("reports", len(records)))
	return records, nil
}

// CaseReportFilter builds the where clause for queries scoped to one
// case, optionally bounded by creation time. The bounds use the same
// layout as report creation times; malformed bounds are ignored.
func CaseReportFilter(caseID, startTime, endTime string) *filters.WhereBuilder {
	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"case_id"}).
			WithOperator(filters.Equal).
			WithValueString(caseID),
	}
	if startTime != "" {
		if t, err := time.Parse(datatypes.CreatedAtLayout, startTime); err == nil {
			operands = append(operands, filters.Where().
				WithPath([]string{"timestamp"}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(t.Unix()))
		}
	}
	if endTime != "" {
		if t, err := time.Parse(datatypes.CreatedAtLayout, endTime); err == nil {
			operands = append(operands, filters.Where().
				WithPath([]string{"timestamp"}).
				WithOperator(filters.LessThanEqual).
				WithValueInt(t.Unix()))
		}
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// Latest returns the newest report matching the filter, or nil when
// nothing matches.
func (s *WeaviateStore) Latest(ctx context.Context, where *filters.WhereBuilder) (*datatypes.ReportRecord, error) {
	ctx, span := tracer.Start(ctx, "store.Latest")
	defer span.End()

	var resp *models.GraphQLResponse
	err := s.execute(ctx, "latest", func() error {
		var execErr error
		query := s.client.GraphQL().Get().
			WithClassName(datatypes.IncidentReportClass).
			WithFields(reportFields...).
			WithSort(graphql.Sort{Path: []string{"timestamp"}, Order: graphql.Desc}).
			WithLimit(1)
		if where != nil {
			query = query.WithWhere(where)
		}
		resp, execErr = query.Do(ctx)
		if execErr != nil {
			return execErr
		}
		return graphQLErrors(resp)
	})
	if err != nil {
		span.RecordError(err)
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.IncidentReportQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}
	if len(parsed.Get.IncidentReport) == 0 {
		return nil, nil
	}
	return parsed.Get.IncidentReport[0].ToRecord(), nil
}

// MaxDailyIndex scans the case IDs already minted for a cluster and
// returns the highest daily index among them, or zero when the cluster
// has none. Used to seed the index counter after a restart.
func (s *WeaviateStore) MaxDailyIndex(ctx context.Context, clusterKey string) (int, error) {
	ctx, span := tracer.Start(ctx, "store.MaxDailyIndex",
		trace.WithAttributes(attribute.String("cluster_key", clusterKey)))
	defer span.End()

	where := filters.Where().
		WithPath([]string{"case_id"}).
		WithOperator(filters.Like).
		WithValueString(clusterKey + "-*")

	var resp *models.GraphQLResponse
	err := s.execute(ctx, "max_daily_index", func() error {
		var execErr error
		resp, execErr = s.client.GraphQL().Get().
			WithClassName(datatypes.IncidentReportClass).
			WithFields(graphql.Field{Name: "case_id"}).
			WithWhere(where).
			WithLimit(maxIndexScan).
			Do(ctx)
		if execErr != nil {
			return execErr
		}
		return graphQLErrors(resp)
	})
	if err != nil {
		span.RecordError(err)
		return 0, &datatypes.SearchUnavailableError{Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.IncidentReportQueryResponse](resp)
	if err != nil {
		return 0, &datatypes.SearchUnavailableError{Err: err}
	}

	maxIndex := 0
	for i := range parsed.Get.IncidentReport {
		if idx, ok := DailyIndexOf(parsed.Get.IncidentReport[i].CaseID); ok && idx > maxIndex {
			maxIndex = idx
		}
	}
	span.SetAttributes(attribute.Int("max_index", maxIndex))
	return maxIndex, nil
}

// AssignCaseName writes the case name onto every report in a case.
func (s *WeaviateStore) AssignCaseName(ctx context.Context, caseID, name string) error {
	ctx, span := tracer.Start(ctx, "store.AssignCaseName",
		trace.WithAttributes(attribute.String("case_id", caseID)))
	defer span.End()

	reports, err := s.caseObjectIDs(ctx, caseID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, objectID := range reports {
		id := objectID
		err := s.execute(ctx, "assign_case_name", func() error {
			return s.client.Data().Updater().
				WithClassName(datatypes.IncidentReportClass).
				WithID(id).
				WithProperties(map[string]interface{}{"case_name": name}).
				WithMerge().
				Do(ctx)
		})
		if err != nil {
			span.RecordError(err)
			return &datatypes.PersistenceFailedError{DataID: id, Err: err}
		}
	}

	span.SetAttributes(attribute.Int("updated", len(reports)))
	return nil
}

// caseObjectIDs lists the Weaviate object IDs of a case's reports.
func (s *WeaviateStore) caseObjectIDs(ctx context.Context, caseID string) ([]string, error) {
	where := filters.Where().
		WithPath([]string{"case_id"}).
		WithOperator(filters.Equal).
		WithValueString(caseID)

	var resp *models.GraphQLResponse
	err := s.execute(ctx, "case_object_ids", func() error {
		var execErr error
		resp, execErr = s.client.GraphQL().Get().
			WithClassName(datatypes.IncidentReportClass).
			WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}}).
			WithWhere(where).
			WithLimit(maxIndexScan).
			Do(ctx)
		if execErr != nil {
			return execErr
		}
		return graphQLErrors(resp)
	})
	if err != nil {
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.IncidentReportQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	ids := make([]string, 0, len(parsed.Get.IncidentReport))
	for i := range parsed.Get.IncidentReport {
		if id := parsed.Get.IncidentReport[i].Additional.ID; id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// =============================================================================
// Helpers
// =============================================================================

// ObjectID derives the deterministic Weaviate object ID for a data ID.
func ObjectID(dataID string) strfmt.UUID {
	sum := sha256.Sum256([]byte(dataID))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// 16 bytes never fails; keep the compiler honest.
		return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(dataID)).String())
	}
	return strfmt.UUID(id.String())
}

// DailyIndexOf extracts the daily-index segment from a case ID.
func DailyIndexOf(caseID string) (int, bool) {
	parts := strings.Split(caseID, "-")
	if len(parts) < 5 {
		return 0, false
	}
	idx, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// execute runs fn with retry, exponential backoff, and jitter.
func (s *WeaviateStore) execute(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt)
			slog.Debug("retrying weaviate operation",
				"operation", op,
				"attempt", attempt,
				"backoff_ms", backoff.Milliseconds())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, s.cfg.RetryAttempts+1, lastErr)
}

// calculateBackoff returns backoff with jitter for the given attempt.
func (s *WeaviateStore) calculateBackoff(attempt int) time.Duration {
	backoff := s.cfg.RetryBackoff * time.Duration(1<<attempt)
	if backoff > s.cfg.MaxRetryBackoff {
		backoff = s.cfg.MaxRetryBackoff
	}

	jitterRange := float64(backoff) * s.cfg.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)
	if backoff < 0 {
		backoff = s.cfg.RetryBackoff
	}
	return backoff
}

// graphQLErrors folds the error list of a GraphQL response into one error.
func graphQLErrors(resp *models.GraphQLResponse) error {
	if resp == nil {
		return errors.New("empty GraphQL response")
	}
	if len(resp.Errors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			messages = append(messages, e.Message)
		}
	}
	return fmt.Errorf("graphql errors: %s", strings.Join(messages, "; "))
}

// batchErrors folds per-object batch failures into one error.
func batchErrors(resp []models.ObjectsGetResponse) error {
	var messages []string
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil {
			for _, e := range obj.Result.Errors.Error {
				if e != nil {
					messages = append(messages, e.Message)
				}
			}
		}
	}
	if len(messages) > 0 {
		return fmt.Errorf("batch errors: %s", strings.Join(messages, "; "))
	}
	return nil
}
