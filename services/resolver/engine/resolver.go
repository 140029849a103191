// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine decides case identity: each incoming report either
// links to the case of its best similar report or mints a new case.
//
// Concurrent resolutions that would mint into the same cluster
// serialize on a per-cluster lock and re-run the similarity gate while
// holding it, so a burst of near-duplicate reports converges on a
// single new case instead of minting one each.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCases/services/resolver/caseid"
	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
	"github.com/AleutianAI/AleutianCases/services/resolver/location"
	"github.com/AleutianAI/AleutianCases/services/resolver/observability"
	"github.com/AleutianAI/AleutianCases/services/resolver/search"
)

var tracer = otel.Tracer("aleutian.cases.engine")

// =============================================================================
// Collaborator interfaces
// =============================================================================

// ReportStore is the persistence surface the engine needs.
type ReportStore interface {
	Search(ctx context.Context, vector []float32, where *filters.WhereBuilder, threshold float64, limit int) ([]search.Match, error)
	Upsert(ctx context.Context, rec *datatypes.ReportRecord, locationCode string) error
}

// Embedder turns report text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ClusterLocker serializes minting per cluster key.
type ClusterLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// IndexCounter reserves daily indices per cluster key.
type IndexCounter interface {
	Next(ctx context.Context, clusterKey string) (int, error)
}

// CaseNamer requests a name for a freshly minted case. Implementations
// must never block.
type CaseNamer interface {
	Enqueue(caseID, category, content string)
}

// Tunables are the per-request defaults, re-readable at runtime so a
// config reload takes effect without a restart.
type Tunables struct {
	ScoreThreshold float64
	RadiusMeters   float64
	SearchLimit    int
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver is the case identity engine. Safe for concurrent use.
type Resolver struct {
	normalizer *location.Normalizer
	gate       *search.Gate
	generator  *caseid.Generator

	store    ReportStore
	embedder Embedder
	locks    ClusterLocker
	counter  IndexCounter
	namer    CaseNamer
	metrics  *observability.ResolutionMetrics

	tunables func() Tunables
}

// NewResolver wires the engine. namer and metrics may be nil.
func NewResolver(
	store ReportStore,
	embedder Embedder,
	locks ClusterLocker,
	counter IndexCounter,
	namer CaseNamer,
	metrics *observability.ResolutionMetrics,
	tunables func() Tunables,
) *Resolver {
	return &Resolver{
		normalizer: location.NewNormalizer(),
		gate:       search.NewGate(),
		generator:  caseid.NewGenerator(),
		store:      store,
		embedder:   embedder,
		locks:      locks,
		counter:    counter,
		namer:      namer,
		metrics:    metrics,
		tunables:   tunables,
	}
}

// Resolve assigns a case identity to one report.
//
// # Description
//
// Validates and normalizes the report, embeds its content, searches for
// similar reports in the same category, location, and time window, and
// links to the best match at or above the score threshold. With no
// match, it takes the cluster lock, re-runs the gate to catch cases
// minted since the first search, and only then mints a new case ID and
// persists the report. Resolving the same report again converges on the
// same case.
//
// # Outputs
//   - *datatypes.Resolution: the assigned case identity.
//   - error: one of the package's typed errors; test with
//     datatypes.IsInvalidLocation, IsSearchUnavailable, IsClusterBusy,
//     IsPersistenceFailed.
func (r *Resolver) Resolve(ctx context.Context, req *datatypes.ResolveCaseRequest) (*datatypes.Resolution, error) {
	t := r.tunables()
	req.EnsureDefaults(t.ScoreThreshold, t.RadiusMeters, t.SearchLimit)

	started := time.Now()
	r.metrics.ResolutionStarted()
	defer r.metrics.ResolutionEnded()

	resolution, err := r.resolve(ctx, req)

	outcome := observability.OutcomeError
	if err == nil {
		outcome = observability.OutcomeLinked
		if resolution.IsNewCase {
			outcome = observability.OutcomeCreated
		}
	}
	r.metrics.RecordResolution(outcome, time.Since(started).Seconds())
	return resolution, err
}

func (r *Resolver) resolve(ctx context.Context, req *datatypes.ResolveCaseRequest) (*datatypes.Resolution, error) {
	ctx, span := tracer.Start(ctx, "engine.Resolve",
		trace.WithAttributes(
			attribute.String("category", req.ReportType),
			attribute.Float64("threshold", req.Threshold()),
		))
	defer span.End()

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return nil, &datatypes.ValidationError{Reason: err.Error()}
	}

	rec := req.ToRecord()
	rec.EnsureDataID()
	span.SetAttributes(attribute.String("data_id", rec.DataID))

	if err := r.normalizer.Normalize(&rec.Location); err != nil {
		span.SetStatus(codes.Error, "invalid location")
		return nil, err
	}

	vector, err := r.embedder.Embed(ctx, rec.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}
	rec.Embedding = vector

	since, until := req.Window()
	builder := search.NewFilterBuilder(req.RadiusMeters)
	where := builder.Build(rec.Category, &rec.Location, since, until)

	// Fast path: gate outside the lock. Most reports either clearly
	// link or clearly mint without contention.
	decision, err := r.searchAndGate(ctx, vector, where, req.Threshold(), req.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}
	if decision.Matched {
		return r.link(ctx, span, rec, decision)
	}

	// No match: serialize with everyone minting into this cluster.
	clusterKey := r.generator.ClusterKey(rec)
	span.SetAttributes(attribute.String("cluster_key", clusterKey))

	lockStart := time.Now()
	release, err := r.locks.Acquire(ctx, clusterKey)
	r.metrics.RecordLockWait(time.Since(lockStart).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cluster lock unavailable")
		return nil, err
	}
	defer release()

	// Re-gate under the lock: a concurrent resolution may have minted
	// the case while we waited.
	decision, err = r.searchAndGate(ctx, vector, where, req.Threshold(), req.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}
	if decision.Matched {
		span.AddEvent("converged on concurrently minted case")
		return r.link(ctx, span, rec, decision)
	}

	return r.mint(ctx, span, rec, clusterKey, decision)
}

// searchAndGate runs one similarity search and applies the gate.
func (r *Resolver) searchAndGate(
	ctx context.Context,
	vector []float32,
	where *filters.WhereBuilder,
	threshold float64,
	limit int,
) (search.Decision, error) {
	matches, err := r.store.Search(ctx, vector, where, threshold, limit)
	if err != nil {
		return search.Decision{}, err
	}
	return r.gate.Decide(matches, threshold), nil
}

// link attaches the report to the best match's case.
func (r *Resolver) link(ctx context.Context, span trace.Span, rec *datatypes.ReportRecord, decision search.Decision) (*datatypes.Resolution, error) {
	best := decision.Best
	rec.CaseID = best.Record.CaseID
	rec.CaseName = best.Record.CaseName
	rec.ProcessedAt = time.Now().UTC()
	r.metrics.RecordSimilarCandidates(decision.SimilarCount)

	// The identity decision is made; finish persisting even if the
	// caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	if err := r.store.Upsert(persistCtx, rec, caseid.LocationCode(&rec.Location)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, err
	}

	// An adopted case that never got its name keeps getting chances.
	if rec.CaseName == "" && r.namer != nil {
		r.namer.Enqueue(rec.CaseID, rec.Category, rec.Content)
	}

	slog.Info("report linked to existing case",
		"data_id", rec.DataID,
		"case_id", rec.CaseID,
		"score", best.Score,
		"similar_count", decision.SimilarCount)
	span.SetAttributes(
		attribute.String("case_id", rec.CaseID),
		attribute.Bool("is_new_case", false))
	span.SetStatus(codes.Ok, "linked")

	return &datatypes.Resolution{
		CaseID:       rec.CaseID,
		DataID:       rec.DataID,
		IsNewCase:    false,
		MatchedScore: best.Score,
		SimilarCount: decision.SimilarCount,
		CaseName:     rec.CaseName,
	}, nil
}

// mint creates a new case for the report. Caller holds the cluster lock.
func (r *Resolver) mint(ctx context.Context, span trace.Span, rec *datatypes.ReportRecord, clusterKey string, decision search.Decision) (*datatypes.Resolution, error) {
	persistCtx := context.WithoutCancel(ctx)

	dailyIndex, err := r.counter.Next(persistCtx, clusterKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index reservation failed")
		return nil, &datatypes.PersistenceFailedError{DataID: rec.DataID, Err: err}
	}

	rec.CaseID = r.generator.Generate(rec, dailyIndex)
	rec.ProcessedAt = time.Now().UTC()

	if err := r.store.Upsert(persistCtx, rec, caseid.LocationCode(&rec.Location)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, err
	}

	if r.namer != nil {
		r.namer.Enqueue(rec.CaseID, rec.Category, rec.Content)
	}

	slog.Info("new case minted",
		"data_id", rec.DataID,
		"case_id", rec.CaseID,
		"cluster_key", clusterKey,
		"daily_index", dailyIndex)
	span.SetAttributes(
		attribute.String("case_id", rec.CaseID),
		attribute.Bool("is_new_case", true),
		attribute.Int("daily_index", dailyIndex))
	span.SetStatus(codes.Ok, "minted")

	return &datatypes.Resolution{
		CaseID:       rec.CaseID,
		DataID:       rec.DataID,
		IsNewCase:    true,
		SimilarCount: decision.SimilarCount,
		DailyIndex:   dailyIndex,
	}, nil
}
