// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the case
// resolver. Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for resolution metrics
const casesSubsystem = "cases"

// Outcome labels for resolutions.
const (
	OutcomeLinked  = "linked"
	OutcomeCreated = "created"
	OutcomeError   = "error"
)

// ResolutionMetrics holds all Prometheus metrics for case resolution.
// Initialize once at startup via InitMetrics().
type ResolutionMetrics struct {
	// ResolutionsTotal counts resolutions by outcome.
	// Labels: outcome (linked, created, error)
	ResolutionsTotal *prometheus.CounterVec

	// ResolutionDurationSeconds measures end-to-end resolution latency.
	// Labels: outcome (linked, created, error)
	ResolutionDurationSeconds *prometheus.HistogramVec

	// LockWaitSeconds measures time spent waiting for a cluster lock.
	LockWaitSeconds prometheus.Histogram

	// ActiveResolutions gauges resolutions currently in flight.
	ActiveResolutions prometheus.Gauge

	// NamingsTotal counts naming attempts by outcome.
	// Labels: outcome (named, failed, dropped)
	NamingsTotal *prometheus.CounterVec

	// SimilarCandidates observes how many candidates passed the gate.
	SimilarCandidates prometheus.Histogram
}

// InitMetrics creates and registers all resolution metrics.
// Call exactly once; promauto panics on duplicate registration.
func InitMetrics() *ResolutionMetrics {
	return &ResolutionMetrics{
		ResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: casesSubsystem,
				Name:      "resolutions_total",
				Help:      "Total case resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: casesSubsystem,
				Name:      "resolution_duration_seconds",
				Help:      "End-to-end resolution latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		LockWaitSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: casesSubsystem,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for a cluster lock",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		ActiveResolutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: casesSubsystem,
				Name:      "active_resolutions",
				Help:      "Resolutions currently in flight",
			},
		),
		NamingsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: casesSubsystem,
				Name:      "namings_total",
				Help:      "Case naming attempts by outcome",
			},
			[]string{"outcome"},
		),
		SimilarCandidates: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: casesSubsystem,
				Name:      "similar_candidates",
				Help:      "Qualifying similar reports per resolution",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
			},
		),
	}
}

// RecordResolution records one finished resolution.
func (m *ResolutionMetrics) RecordResolution(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordLockWait records how long a resolution waited for its cluster.
func (m *ResolutionMetrics) RecordLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.LockWaitSeconds.Observe(seconds)
}

// ResolutionStarted marks a resolution as in flight.
func (m *ResolutionMetrics) ResolutionStarted() {
	if m == nil {
		return
	}
	m.ActiveResolutions.Inc()
}

// ResolutionEnded marks a resolution as finished.
func (m *ResolutionMetrics) ResolutionEnded() {
	if m == nil {
		return
	}
	m.ActiveResolutions.Dec()
}

// RecordNaming records one naming attempt.
func (m *ResolutionMetrics) RecordNaming(outcome string) {
	if m == nil {
		return
	}
	m.NamingsTotal.WithLabelValues(outcome).Inc()
}

// RecordSimilarCandidates records the gate's qualifying count.
func (m *ResolutionMetrics) RecordSimilarCandidates(count int) {
	if m == nil {
		return
	}
	m.SimilarCandidates.Observe(float64(count))
}
