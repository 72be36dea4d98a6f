// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package models

// APIResponse is the uniform envelope for query-layer responses.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code alongside the human message.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// IngestResult is returned by the ingestion boundary: accepted or rejected
// with a reason code, never silently dropped.
type IngestResult struct {
	Accepted   bool       `json:"accepted"`
	ShowID     string     `json:"show_id,omitempty"`
	EntryKey   string     `json:"entry_key,omitempty"`
	ReasonCode ReasonCode `json:"reason_code,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}
