// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capability

import "time"

// Source tells where a Record came from.
type Source string

const (
	// SourceHeuristic records come from name matching only and never expire.
	SourceHeuristic Source = "heuristic"
	// SourceAuthoritative records come from model metadata and go stale.
	SourceAuthoritative Source = "authoritative"
)

// Record is the cached capability verdict for one model name.
type Record struct {
	Vision     bool      `json:"vision"`
	Reasoning  bool      `json:"reasoning"`
	Source     Source    `json:"source"`
	DetectedAt time.Time `json:"detectedAt"`
	Error      string    `json:"error,omitempty"`
	// RetryAfter holds back the next refresh of a stale record after a
	// failed one.
	RetryAfter time.Time `json:"retryAfter,omitzero"`
}

// Authoritative reports whether the record came from a metadata lookup.
func (r Record) Authoritative() bool {
	return r.Source == SourceAuthoritative
}
