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
	"errors"
	"fmt"
	"time"
)

// The resolution error taxonomy. Handlers map these onto HTTP statuses;
// retryable classes carry enough context for the caller to back off.
//
//   - InvalidLocationError: bad client data, not retryable.
//   - SearchUnavailableError: transient, retry with backoff.
//   - ClusterBusyError: transient lock contention, retry shortly.
//   - PersistenceFailedError: the upsert did not durably land; retry the
//     whole resolution. A half-applied index is never reused.
//   - NamingFailedError: non-fatal; case assignment already succeeded.

// =============================================================================
// Validation
// =============================================================================

// ValidationError reports a request that failed a cross-field check
// before resolution started.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// IsValidation checks whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// =============================================================================
// InvalidLocation
// =============================================================================

// InvalidLocationError reports a location payload that failed an internal
// consistency check, such as an out-of-range coordinate.
type InvalidLocationError struct {
	Field  string
	Reason string
}

func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("invalid location: %s: %s", e.Field, e.Reason)
}

// IsInvalidLocation checks whether err is an InvalidLocationError.
func IsInvalidLocation(err error) bool {
	var target *InvalidLocationError
	return errors.As(err, &target)
}

// =============================================================================
// SearchUnavailable
// =============================================================================

// SearchUnavailableError wraps a failed similarity search. The gate does
// not retry; the caller should treat the condition as transient.
type SearchUnavailableError struct {
	Err error
}

func (e *SearchUnavailableError) Error() string {
	return fmt.Sprintf("similarity search unavailable: %v", e.Err)
}

func (e *SearchUnavailableError) Unwrap() error { return e.Err }

// IsSearchUnavailable checks whether err is a SearchUnavailableError.
func IsSearchUnavailable(err error) bool {
	var target *SearchUnavailableError
	return errors.As(err, &target)
}

// =============================================================================
// ClusterBusy
// =============================================================================

// ClusterBusyError reports that the cluster-key lock could not be
// acquired within the bounded wait. Retry after a short delay.
type ClusterBusyError struct {
	ClusterKey string
	Waited     time.Duration
}

func (e *ClusterBusyError) Error() string {
	return fmt.Sprintf("cluster %q busy after %s", e.ClusterKey, e.Waited)
}

// IsClusterBusy checks whether err is a ClusterBusyError.
func IsClusterBusy(err error) bool {
	var target *ClusterBusyError
	return errors.As(err, &target)
}

// =============================================================================
// PersistenceFailed
// =============================================================================

// PersistenceFailedError reports that the post-resolution upsert did not
// durably land. The caller must retry the whole resolution; any index
// minted for the failed attempt is abandoned, not reused.
type PersistenceFailedError struct {
	DataID string
	Err    error
}

func (e *PersistenceFailedError) Error() string {
	return fmt.Sprintf("persisting report %s failed: %v", e.DataID, e.Err)
}

func (e *PersistenceFailedError) Unwrap() error { return e.Err }

// IsPersistenceFailed checks whether err is a PersistenceFailedError.
func IsPersistenceFailed(err error) bool {
	var target *PersistenceFailedError
	return errors.As(err, &target)
}

// =============================================================================
// NamingFailed
// =============================================================================

// NamingFailedError reports that the best-effort case naming call failed.
// Never fatal: the case exists and is nameable later out-of-band.
type NamingFailedError struct {
	CaseID string
	Err    error
}

func (e *NamingFailedError) Error() string {
	return fmt.Sprintf("naming case %s failed: %v", e.CaseID, e.Err)
}

func (e *NamingFailedError) Unwrap() error { return e.Err }

// IsNamingFailed checks whether err is a NamingFailedError.
func IsNamingFailed(err error) bool {
	var target *NamingFailedError
	return errors.As(err, &target)
}
